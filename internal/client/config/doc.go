// Package config loads runtime configuration for the gophdine client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or --config.
//  3. GOPHDINE_* environment variables.
//  4. Command-line flags the user actually set (see ApplyFlags).
//
// Later sources override earlier ones. Load finishes with Validate.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "15s" or
// integer nanoseconds:
//
//	{
//	  "api_url": "https://dine.example.com/api",
//	  "portal": "owner",
//	  "store_path": "/home/me/.gophdine.db",
//	  "request_timeout": "15s",
//	  "network_retries": 2,
//	  "resend_cooldown": "60s",
//	  "trust_legacy_tokens": false,
//	  "watch_store": false,
//	  "log_level": "info",
//	  "log_format": "console"
//	}
package config
