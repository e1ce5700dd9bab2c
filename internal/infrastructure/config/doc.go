// Package config handles loading and validating Gray ORM configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of persistence units and server settings
//   - Default value handling
//
// A persistence unit pairs one SQLite database with the entity types it
// manages and the session behaviour for that database (statement logging,
// schema management and the column naming strategy).
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - A JWT secret, when set, must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	unit, _ := cfg.Unit("")
//	fmt.Println(unit.Database.Path)
package config
