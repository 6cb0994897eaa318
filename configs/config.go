package configs

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTPAddr    string
	Backend     string
	MongoURI    string
	DatabaseURL string
}

const (
	defaultHTTPAddr = "127.0.0.1:7983"
	defaultMongoURI = "mongodb://localhost:27017"
)

// Load reads configuration from environment variables, after merging an optional .env file.
// STORE_BACKEND selects mongo (default) or postgres; DATABASE_URL is required for postgres.
func Load() (*Config, error) {
	// variables already set in the environment take precedence over .env
	_ = godotenv.Load()

	backend := getenv("STORE_BACKEND", BackendMongo)
	cfg := &Config{
		HTTPAddr:    getenv("HTTP_ADDR", defaultHTTPAddr),
		Backend:     backend,
		MongoURI:    getenv("MONGODB_URI", defaultMongoURI),
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}
	switch backend {
	case BackendMongo:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the %s backend", backend)
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", backend)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
