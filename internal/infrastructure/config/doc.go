// Package config handles loading and validating the cockpit bridge
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with COCKPIT_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Durations are written as Go duration strings ("50ms", "30s").
//
// Usage:
//
//	cfg, err := config.Load("configs/cockpit.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Sim.Host, cfg.Sim.Port)
//
// The per-airframe wiring table is a separate file named by
// bridge.wiring_file; see the bridge package.
package config
