// Package config loads sitework's settings from SITEWORK_* environment
// variables.
//
// LoadConfig reads every section, applies defaults and runs Validate. The
// rules depend on the mode: live needs SITEWORK_POSTGRES_URL and
// SITEWORK_JWT_SECRET, demo needs neither since its backend refuses every
// operation anyway.
//
// Commonly set variables:
//
//	SITEWORK_MODE              live | demo (default live)
//	SITEWORK_PORT              API port (default 8080)
//	SITEWORK_HEALTH_PORT       health and metrics port (default 9090)
//	SITEWORK_POSTGRES_URL      lib/pq connection string
//	SITEWORK_REDIS_URL         optional shared membership cache
//	SITEWORK_S3_BUCKET         bucket for presigned uploads and downloads
//	SITEWORK_S3_ENDPOINT       S3-compatible endpoint, e.g. MinIO
//	SITEWORK_JWT_SECRET        HMAC key for bearer tokens
//	SITEWORK_BYPASS_ROLES      comma-separated canonical roles (default owner,admin)
//	SITEWORK_LOCALE            fallback language for denial reasons (default en)
//	SITEWORK_PLAN_CATALOG      optional YAML plan catalog
//	SITEWORK_LOG_LEVEL         debug | info | warn | error
package config
