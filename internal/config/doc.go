// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// After parsing, MATCHLINE_WS_URL, MATCHLINE_ACCESS_TOKEN and MATCHLINE_LOG_LEVEL
// override the corresponding fields when set.
package config
