package models

// ColumnProfile names the columns the pipeline refers to. Columns are addressed by header text,
// never by position.
type ColumnProfile struct {
	Supplier                 string `yaml:"supplier"`
	Period                   string `yaml:"period"`
	Family                   string `yaml:"family"`
	Subfamily                string `yaml:"subfamily"`
	Category                 string `yaml:"category"`
	Subcategory              string `yaml:"subcategory"`
	Region                   string `yaml:"region"`
	RegionCode               string `yaml:"region_code"`
	ResponsibilityCenter     string `yaml:"responsibility_center"`
	ResponsibilityCenterCode string `yaml:"responsibility_center_code"`
	Status                   string `yaml:"status"`
	Order                    string `yaml:"order"`

	Ordered   string `yaml:"ordered"`
	Invoiced  string `yaml:"invoiced"`
	Delivered string `yaml:"delivered"`
	Total     string `yaml:"total"`

	// TextOverrides are numeric-looking columns the engine must keep as text.
	TextOverrides []string `yaml:"text_overrides"`
}

func DefaultColumnProfile() ColumnProfile {
	return ColumnProfile{
		Supplier:                 "Proveedor",
		Period:                   "Periodo",
		Family:                   "Familia",
		Subfamily:                "Subfamilia",
		Category:                 "Categoría",
		Subcategory:              "Subcategoría",
		Region:                   "Región",
		RegionCode:               "Cód. Región",
		ResponsibilityCenter:     "Centro Responsabilidad",
		ResponsibilityCenterCode: "Cód. Centro Responsabilidad",
		Status:                   "Significado Estado Documento",
		Order:                    "Nº Pedido",
		Ordered:                  "Importe Pedido",
		Invoiced:                 "Importe Facturado",
		Delivered:                "Importe Entregado",
		Total:                    "Importe Total",
		TextOverrides: []string{
			"Región",
			"Cód. Región",
			"Centro Responsabilidad",
			"Cód. Centro Responsabilidad",
		},
	}
}

// MonetaryColumns returns the configured monetary columns, skipping blanks.
func (p ColumnProfile) MonetaryColumns() []string {
	return nonEmpty(p.Ordered, p.Invoiced, p.Delivered, p.Total)
}

// FilterColumn returns the column backing a filter field.
func (p ColumnProfile) FilterColumn(field FilterField) string {
	switch field {
	case FilterPeriod:
		return p.Period
	case FilterCategory:
		return p.Category
	case FilterSupplier:
		return p.Supplier
	case FilterRegion:
		return p.Region
	case FilterStatus:
		return p.Status
	case FilterSubcategory:
		return p.Subcategory
	}
	return ""
}

// DisplayColumns lists every non-monetary column of the profile, used to shape an empty table.
func (p ColumnProfile) DisplayColumns() []string {
	cols := nonEmpty(
		p.Supplier, p.Period, p.Family, p.Subfamily, p.Category, p.Subcategory,
		p.Region, p.RegionCode, p.ResponsibilityCenter, p.ResponsibilityCenterCode,
		p.Status, p.Order,
	)
	seen := make(map[string]bool, len(cols))
	out := cols[:0]
	for _, c := range cols {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
