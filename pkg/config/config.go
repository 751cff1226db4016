package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// DefaultFingerprintSecret is the fallback used when no secret is
// configured. Deployments must set ANON_FINGERPRINT_SECRET; running on the
// fallback means every instance sharing it derives the same identities.
const DefaultFingerprintSecret = "alpaca-fingerprint-dev-secret"

// Config holds everything the service reads from the environment.
type Config struct {
	ListenAddr        string
	DatabaseURL       string // empty: in-memory store (development only)
	FingerprintSecret string
	GeoIPCityDB       string // optional .mmdb path
	MaxGenerations    int
}

// Load reads configuration from the environment, honoring a .env file when
// one is present.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		FingerprintSecret: getEnv("ANON_FINGERPRINT_SECRET", DefaultFingerprintSecret),
		GeoIPCityDB:       os.Getenv("GEOIP_CITY_DB"),
	}

	if v := os.Getenv("MAX_GENERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxGenerations = n
		}
	}
	return cfg
}

// UsingDefaultSecret reports whether the deployment forgot to set a secret.
func (c Config) UsingDefaultSecret() bool {
	return c.FingerprintSecret == DefaultFingerprintSecret
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
