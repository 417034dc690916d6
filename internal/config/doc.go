// Package config provides configuration management for validate-config.
//
// The package uses a Provider interface to abstract configuration loading, with the
// primary implementation being filesystem-based configuration via YAML files.
// Command-line flags override whatever the file sets.
//
// # Configuration Structure
//
// Configuration is structured as follows:
//
//	input:
//	  path: /etc/opscode/chef-server-running.json  # Document to validate
//	rules:
//	  file: ""                # Extra rule catalog appended to the built-in one
//	  groups: []              # Restrict the run to these groups (empty means all)
//	  parallelism: 4          # Rules evaluated concurrently
//	report:
//	  format: text            # text or json
//	  file: ""                # Also write a JSON report here
//	  metrics_file: ""        # Also write a Prometheus textfile here
//	watch:
//	  debounce: 500ms         # Quiet period before re-validating
//	  schedule: ""            # Also re-validate on this cron schedule, e.g. "@every 1h"
//	history:
//	  path: ""                # SQLite run history (empty disables it)
//	  keep: 100               # Runs retained in the history
//
// # Basic Usage
//
// Load configuration using the default path (~/.validate-config/config.yaml):
//
//	provider := config.New()
//	cfg, err := provider.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Load configuration from a specific path:
//
//	provider := config.NewWithPath(filesys.OS(), "/etc/validate-config/config.yaml")
//	cfg, err := provider.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Configuration Validation
//
// The package performs validation of loaded configuration:
//   - Input path must not be empty
//   - Parallelism must be at least 1
//   - Report format must be text or json
//   - Watch debounce must be at least 10ms
//   - Watch schedule, when set, must be a standard cron expression or descriptor
//   - History keep must be at least 1
//
// # Default Configuration
//
// If no configuration file exists, the following defaults are used:
//   - Input Path: /etc/opscode/chef-server-running.json
//   - Parallelism: 4
//   - Report Format: text
//   - Watch Debounce: 500ms
//   - History Keep: 100 (history itself is off until a path is set)
//
// # Error Handling
//
// The package defines several error types:
//   - ErrInvalidConfig: Configuration validation failed
//   - ErrNoConfig: Configuration file not found (returns defaults)
package config
