// Package config provides application configuration management from environment variables.
//
// All settings use the STUDYGATE_ prefix and carry sensible defaults except
// for secrets and issuer settings, which must be provided. LoadConfig reads
// the environment once and validates the result; nothing else in the
// application touches os.Getenv.
package config
