package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, bearer tokens are treated as bare user ids. Dev/test only;
	// production requires SHELFSWAP_TOKEN_HMAC_KEY (>= 32 bytes).
	AuthDevInsecure bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("SHELFSWAP_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("SHELFSWAP_LOG_LEVEL", "info"),
		LogFormat: EnvString("SHELFSWAP_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("SHELFSWAP_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SHELFSWAP_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("SHELFSWAP_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("SHELFSWAP_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("SHELFSWAP_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("SHELFSWAP_DATABASE_URL", ""),
		DBSchema:    EnvString("SHELFSWAP_DB_SCHEMA", "shelfswap"),
		DBMaxConns:  EnvInt32("SHELFSWAP_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("SHELFSWAP_DB_MIN_CONNS", 0),

		CORSAllowedOrigins:   EnvCSV("SHELFSWAP_CORS_ALLOWED_ORIGINS", "http://localhost:*,http://127.0.0.1:*"),
		CORSAllowCredentials: EnvBool("SHELFSWAP_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("SHELFSWAP_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("SHELFSWAP_READINESS_REQUIRE_DB", false),

		AuthDevInsecure: EnvBool("SHELFSWAP_AUTH_DEV_INSECURE", false),
	}
}
