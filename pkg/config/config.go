package config

import "os"

// Config holds process configuration sourced from LOOM_* environment
// variables.
type Config struct {
	LogLevel       string
	ConsoleAddr    string
	ConsoleToken   string
	DataDir        string
	ProfilesDir    string
	Profile        string
	AuditSink      string
	DatabaseURL    string
	CacheBackend   string
	RedisAddr      string
	OTLPEndpoint   string
	TracingEnabled bool
}

// Load reads configuration from environment variables, falling back to
// development defaults.
func Load() *Config {
	logLevel := os.Getenv("LOOM_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	consoleAddr := os.Getenv("LOOM_CONSOLE_ADDR")
	if consoleAddr == "" {
		consoleAddr = ":8777"
	}

	dataDir := os.Getenv("LOOM_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	profilesDir := os.Getenv("LOOM_PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	profile := os.Getenv("LOOM_PROFILE")
	if profile == "" {
		profile = "default"
	}

	auditSink := os.Getenv("LOOM_AUDIT_SINK")
	if auditSink == "" {
		auditSink = "stderr"
	}

	dbURL := os.Getenv("LOOM_DATABASE_URL")
	if dbURL == "" {
		// Default to local postgres
		dbURL = "postgres://loom@localhost:5432/loom?sslmode=disable"
	}

	cacheBackend := os.Getenv("LOOM_CACHE_BACKEND")
	if cacheBackend == "" {
		cacheBackend = "memory"
	}

	redisAddr := os.Getenv("LOOM_REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	otlpEndpoint := os.Getenv("LOOM_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	tracing := os.Getenv("LOOM_TRACING") == "true"

	return &Config{
		LogLevel:       logLevel,
		ConsoleAddr:    consoleAddr,
		ConsoleToken:   os.Getenv("LOOM_CONSOLE_TOKEN"),
		DataDir:        dataDir,
		ProfilesDir:    profilesDir,
		Profile:        profile,
		AuditSink:      auditSink,
		DatabaseURL:    dbURL,
		CacheBackend:   cacheBackend,
		RedisAddr:      redisAddr,
		OTLPEndpoint:   otlpEndpoint,
		TracingEnabled: tracing,
	}
}
