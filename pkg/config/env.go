package config

import "os"

// Environment names recognized by the service.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Environment returns the current environment from PHARMSTOCK_SERVER_ENVIRONMENT,
// defaulting to development when unset.
func Environment() string {
	env := os.Getenv("PHARMSTOCK_SERVER_ENVIRONMENT")
	if env == "" {
		return EnvDevelopment
	}
	return env
}

// IsProduction reports whether the service is running in production.
func IsProduction() bool {
	return Environment() == EnvProduction
}

// IsDevelopment reports whether the service is running in development.
func IsDevelopment() bool {
	return Environment() == EnvDevelopment
}
