// Package config handles loading and validating fleetctl configuration.
//
// This package manages:
//   - Loading configuration from <config_dir>/config.yaml (optional)
//   - Overriding with FLEETCTL_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The InfluxDB token should be set via FLEETCTL_INFLUXDB_TOKEN
//   - The config directory holds certificate paths, not certificate material
//
// Usage:
//
//	cfg, err := config.Load(config.DefaultDir())
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.BrokerAddress())
package config
