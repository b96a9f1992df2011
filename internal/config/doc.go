// Package config provides centralized configuration management for the staff
// scheduling backend.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. config.yaml (working directory, configs/, or next to the executable)
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern STAFFSCHED_<SECTION>_<FIELD>:
//
//	STAFFSCHED_SERVER_PORT=3001
//	STAFFSCHED_DATABASE_PATH=data/staffsched.sqlite
//	STAFFSCHED_LICENSE_VERIFIER_PATH=bin/license-verifier
//	STAFFSCHED_LICENSE_DEFAULT_REGION=Asia/Kolkata
//	STAFFSCHED_LOGGING_LEVEL=debug
//
// # Path Management
//
// Relative paths are anchored at the executable directory (see Paths) so the
// backend behaves the same whether launched by the desktop shell or by hand.
package config
