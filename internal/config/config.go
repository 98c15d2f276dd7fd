// Package config loads application configuration from environment variables.
// A .env file in the working directory, when present, is loaded first and
// never overrides variables already set in the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for sizes and costs.
type Config struct {
	Env                 string        // application environment (e.g. "dev", "prod")
	Port                string        // HTTP port to listen on
	DBUser              string        // database username
	DBPass              string        // database password (optional)
	DBHost              string        // database host address
	DBPort              string        // database port number
	DBName              string        // name of the global database
	JWTSecret           string        // secret used to sign JWTs
	JWTIssuer           string        // iss claim written and required in tokens
	AccessTTL           time.Duration // access token lifetime
	BcryptCost          int           // bcrypt cost for password hashing
	TenantCacheCapacity int           // open tenant pools kept at once
	TenantDBPrefix      string        // tenant database name prefix
	RoleSeedPath        string        // CSV loaded into an empty roles table
	LogLevel            string        // zerolog level name
	LogPretty           bool          // human readable console output
	RabbitMQURL         string        // broker for tenant lifecycle events; empty disables
	TenantLogPath       string        // file the tenant event consumer appends to
	WebsiteURL          string        // target of the root redirect
}

// LoadDotEnv reads .env if it exists. A missing file is not an error.
func LoadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Warn().Err(err).Msg("could not read .env")
		}
	}
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	LoadDotEnv()
	return Config{
		Env:                 must("APP_ENV"),
		Port:                must("APP_PORT"),
		DBUser:              must("DB_USER"),
		DBPass:              os.Getenv("DB_PASS"), // empty allowed
		DBHost:              must("DB_HOST"),
		DBPort:              must("DB_PORT"),
		DBName:              must("DB_NAME"),
		JWTSecret:           must("JWT_SECRET"),
		JWTIssuer:           getenv("JWT_ISSUER", "eventapp"),
		AccessTTL:           time.Duration(mustInt("ACCESS_TOKEN_TTL_MIN")) * time.Minute,
		BcryptCost:          mustInt("BCRYPT_COST"),
		TenantCacheCapacity: envInt("TENANT_CACHE_CAPACITY", 16),
		TenantDBPrefix:      getenv("TENANT_DB_PREFIX", "event_"),
		RoleSeedPath:        getenv("ROLE_SEED_PATH", "data/roles.csv"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		LogPretty:           envBool("LOG_PRETTY", false),
		RabbitMQURL:         rabbitURL(),
		TenantLogPath:       getenv("TENANT_LOG_PATH", "logs/tenant.log"),
		WebsiteURL:          getenv("WEBSITE_URL", "/healthz"),
	}
}

// rabbitURL keeps AMQP_URL as an alias of RABBITMQ_URL.
func rabbitURL() string {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		return v
	}
	return os.Getenv("AMQP_URL")
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatal().Str("key", key).Msg("missing required env var")
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatal().Str("key", key).Str("value", s).Msg("invalid int")
	}
	return n
}
