package server

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewServer builds the local HTTP surface used by the dashboard.
func NewServer(service *SpendService) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = goJSONSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	SetupRoutes(e, service)
	return e
}

func SetupRoutes(e *echo.Echo, service *SpendService) {
	api := e.Group("/api")
	api.GET("/status", service.GetStatus)
	api.GET("/kpis", service.GetKPIs)
	api.GET("/rows", service.GetRows)
	api.GET("/distinct", service.GetDistinct)
	api.GET("/events", service.GetEvents)
	api.POST("/upload", service.PostUpload)
	api.POST("/refresh", service.PostRefresh)
	api.DELETE("/data", service.DeleteData)
}
