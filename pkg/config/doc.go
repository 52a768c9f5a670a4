// Package config loads bioviews configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML file named by
// BIOVIEWS_CONFIG_FILE, then BIOVIEWS_* environment variables. The result is validated
// before it is returned.
//
// Server settings:
//
//	BIOVIEWS_PORT="8080"
//	BIOVIEWS_HEALTH_PORT="9090"
//
// Storage settings:
//
//	BIOVIEWS_STORAGE_TYPE="postgres"   # memory, postgres
//	BIOVIEWS_POSTGRES_URL="postgres://localhost/bioviews?sslmode=disable"
//	BIOVIEWS_REDIS_URL="redis://localhost:6379/0"
//	BIOVIEWS_SEED_PROFILES="alesta=5"  # memory backend only
//
// Tracking and presence:
//
//	BIOVIEWS_VIEW_COOLDOWN="5m"
//	BIOVIEWS_RECORD_TIMEOUT="3s"
//	BIOVIEWS_IP_HASH_SECRET="..."
//	BIOVIEWS_PRESENCE_TTL="60s"
//	BIOVIEWS_PRESENCE_BACKPLANE="redis"
//
// The same settings in YAML:
//
//	storage:
//	  type: postgres
//	  postgres_url: postgres://localhost/bioviews
//	tracking:
//	  cooldown: 5m
package config
