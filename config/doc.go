// Package config handles application configuration loading and management.
//
// Configuration is stored in ~/.convoy/config.json. A repository may override
// individual fields in <repo>/.convoy/config.json. Settings cover the work
// procedure, the readiness source, concurrency scaling and merge policy.
package config
