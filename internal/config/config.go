package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ThiagoRGoveia/spend-analytics/internal/database"
	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
	"gopkg.in/yaml.v3"
)

type Config struct {
	StorePath         string
	StoreChunkSize    int
	EngineBatchSize   int
	EngineThreads     int
	EngineMemoryLimit string
	EngineTempDir     string
	NumParserWorkers  int
	APIPort           string
	ColumnProfilePath string
	Columns           models.ColumnProfile
}

func New() (*Config, error) {
	cfg := &Config{
		StorePath:         getEnv("SPEND_STORE_PATH", "spend.db"),
		StoreChunkSize:    1000,
		EngineBatchSize:   5000,
		EngineThreads:     0,
		EngineMemoryLimit: os.Getenv("ENGINE_MEMORY_LIMIT"),
		EngineTempDir:     os.Getenv("ENGINE_TEMP_DIR"),
		NumParserWorkers:  4,
		APIPort:           getEnv("API_PORT", "8080"),
		ColumnProfilePath: os.Getenv("COLUMN_PROFILE"),
		Columns:           models.DefaultColumnProfile(),
	}

	var err error
	cfg.StoreChunkSize, err = getEnvAsInt("STORE_CHUNK_SIZE", cfg.StoreChunkSize)
	if err != nil {
		return nil, err
	}

	cfg.EngineBatchSize, err = getEnvAsInt("ENGINE_BATCH_SIZE", cfg.EngineBatchSize)
	if err != nil {
		return nil, err
	}

	cfg.EngineThreads, err = getEnvAsInt("ENGINE_THREADS", cfg.EngineThreads)
	if err != nil {
		return nil, err
	}

	cfg.NumParserWorkers, err = getEnvAsInt("NUM_PARSER_WORKERS", cfg.NumParserWorkers)
	if err != nil {
		return nil, err
	}

	if cfg.StoreChunkSize <= 0 || cfg.EngineBatchSize <= 0 || cfg.NumParserWorkers <= 0 {
		return nil, fmt.Errorf("STORE_CHUNK_SIZE, ENGINE_BATCH_SIZE and NUM_PARSER_WORKERS must be positive")
	}
	if cfg.StoreChunkSize > database.MaxChunkSize {
		return nil, fmt.Errorf("STORE_CHUNK_SIZE must be at most %d, got %d", database.MaxChunkSize, cfg.StoreChunkSize)
	}

	if cfg.ColumnProfilePath != "" {
		cfg.Columns, err = LoadColumnProfile(cfg.ColumnProfilePath, cfg.Columns)
		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadColumnProfile overlays the YAML file at path on base. Keys missing from the file keep
// their base value.
func LoadColumnProfile(path string, base models.ColumnProfile) (models.ColumnProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read column profile %s: %w", path, err)
	}

	profile := base
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return base, fmt.Errorf("failed to parse column profile %s: %w", path, err)
	}
	return profile, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected an integer, got '%s'", key, valueStr)
	}

	return value, nil
}
