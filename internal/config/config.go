package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.  Required values are enforced at startup;
// tunables carry sensible defaults so a bare .env still boots.
type Config struct {
	Env           string        // application environment (e.g. "dev", "prod")
	Port          string        // HTTP port to listen on
	DBUser        string        // database username
	DBPass        string        // database password (optional)
	DBHost        string        // database host address
	DBPort        string        // database port number
	DBName        string        // database name
	JWTSecret     string        // secret used to verify access tokens
	HoldTTL       time.Duration // how long a seat lock and its draft stay alive
	SweepInterval time.Duration // how often expired drafts are reclaimed

	PaymentBaseURL     string // payment provider API base URL (empty disables the provider)
	PaymentAPIKey      string // provider API key
	PaymentChecksumKey string // HMAC key for webhook signatures
	PaymentSkipVerify  bool   // accept unsigned webhooks (local development only)
}

// Load reads configuration values from environment variables and returns
// a Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:           must("APP_ENV"),
		Port:          must("APP_PORT"),
		DBUser:        must("DB_USER"),
		DBPass:        os.Getenv("DB_PASS"),
		DBHost:        must("DB_HOST"),
		DBPort:        must("DB_PORT"),
		DBName:        must("DB_NAME"),
		JWTSecret:     must("JWT_SECRET"),
		HoldTTL:       envDur("SEAT_HOLD_TTL", 5*time.Minute),
		SweepInterval: envDur("DRAFT_SWEEP_INTERVAL", 30*time.Second),

		PaymentBaseURL:     os.Getenv("PAYMENT_BASE_URL"),
		PaymentAPIKey:      os.Getenv("PAYMENT_API_KEY"),
		PaymentChecksumKey: os.Getenv("PAYMENT_CHECKSUM_KEY"),
		PaymentSkipVerify:  envBool("PAYMENT_SKIP_VERIFY", false),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
