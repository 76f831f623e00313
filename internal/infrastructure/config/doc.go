// Package config handles loading and validating Cragline Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with CRAGLINE_* environment variables
//   - Validation of required fields, collected into a single error
//   - Default value handling
//
// The resulting Config is built once at startup and passed by value or
// pointer into every component constructor. No other package reads the
// process environment.
//
// Security Considerations:
//   - Secrets (JWT secret, recovery token, bootstrap password) should be set via environment variables
//   - With security.production enabled, a JWT secret and an origin allow-list are mandatory
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
