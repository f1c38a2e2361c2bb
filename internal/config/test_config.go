package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/jorektheglitch/simplefiles/internal/repositories"
)

// LoadTestConfig loads the database settings of integration tests from TEST_ prefixed variables.
// If TEST_DB_DRIVER is not set the returned Config has an empty driver,
// which lets tests fall back to a temporary sqlite database.
func LoadTestConfig() (*Config, error) {
	// .env files are optional here
	_ = godotenv.Load("./../../configs/.env")
	_ = godotenv.Load()

	cfg := Default()
	cfg.Database = DatabaseConfig{SSLMode: "disable"}

	driver := os.Getenv("TEST_DB_DRIVER")
	if driver == "" {
		return cfg, nil
	}
	dialect, err := repositories.ParseDialect(driver)
	if err != nil {
		return nil, fmt.Errorf("invalid TEST_DB_DRIVER: %w", err)
	}
	cfg.Database.Driver = dialect

	if dialect == repositories.DialectSQLite {
		cfg.Database.Path = os.Getenv("TEST_DB_PATH")
		return cfg, nil
	}

	cfg.Database.Host = os.Getenv("TEST_DB_HOST")
	cfg.Database.User = os.Getenv("TEST_DB_USER")
	cfg.Database.Password = os.Getenv("TEST_DB_PASSWORD")
	cfg.Database.DBName = os.Getenv("TEST_DB_NAME")
	if v := os.Getenv("TEST_DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TEST_DB_PORT: %w", err)
		}
		cfg.Database.Port = port
	}

	return cfg, nil
}
