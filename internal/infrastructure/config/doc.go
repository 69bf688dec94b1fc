// Package config handles loading and validating Gray Logic node configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Two kinds of settings live here. Operational tuning (timeouts, tick
// period, restart mode) is read once at startup. Device identity and
// credentials under "device" are factory defaults: the settings store is
// seeded from them and is the runtime source of truth.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/node.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Link.Interface)
package config
