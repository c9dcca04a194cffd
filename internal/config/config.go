package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	HTTPAddr      string
	PublicBaseURL string
	SnowflakeNode int64

	OTLPEndpoint  string
	Observability ObservabilityConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	MigrateOnStart    bool

	Auth      AuthConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	AMQP      AMQPConfig
	Email     EmailConfig
	CORS      CORSConfig
	Scheduler SchedulerConfig

	DefaultProvider string
	Paystack        PaystackConfig
	Mpesa           MpesaConfig
}

type ObservabilityConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelProtocol  string
	SamplingRatio float64
}

type AuthConfig struct {
	JWTSecret    string
	JWTIssuer    string
	CookieName   string
	CookieSecure bool
	AdminEmails  []string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled     bool
	PublicRate  float64
	PublicBurst int
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type SchedulerConfig struct {
	Enabled         bool
	IntervalSeconds int
	BatchSize       int
}

type PaystackConfig struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
}

type MpesaConfig struct {
	Environment    string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	CallbackToken  string
	BaseURL        string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	cookieSecure := environment == "production"
	if !cookieSecure {
		cookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "swimreg"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   environment,
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:  getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		Observability: ObservabilityConfig{
			LogLevel:  strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat: strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			// tracing stays off until a collector is configured
			OtelEnabled: getenvBool("OTEL_ENABLED", false),
			OtelProtocol: strings.ToLower(strings.TrimSpace(
				getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "swimreg"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		MigrateOnStart:    getenvBool("DATABASE_MIGRATE", true),

		Auth: AuthConfig{
			JWTSecret:    strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
			JWTIssuer:    strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
			CookieName:   getenv("AUTH_COOKIE_NAME", "swimreg_session"),
			CookieSecure: cookieSecure,
			AdminEmails:  splitList(getenv("AUTH_ADMIN_EMAILS", "")),
		},
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", false),
			PublicRate:  getenvFloat("RATE_LIMIT_PUBLIC_RATE", 0.5),
			PublicBurst: getenvInt("RATE_LIMIT_PUBLIC_BURST", 10),
		},
		AMQP: AMQPConfig{
			URL:      strings.TrimSpace(getenv("AMQP_URL", "")),
			Exchange: getenv("AMQP_EXCHANGE", "swimreg.events"),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@otterskenya.org"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getenvBool("SCHEDULER_ENABLED", true),
			IntervalSeconds: getenvInt("SCHEDULER_INTERVAL_SECONDS", 60),
			BatchSize:       getenvInt("SCHEDULER_BATCH_SIZE", 50),
		},

		DefaultProvider: strings.ToLower(getenv("PAYMENT_DEFAULT_PROVIDER", "paystack")),
		Paystack: PaystackConfig{
			SecretKey:   strings.TrimSpace(getenv("PAYSTACK_SECRET_KEY", "")),
			BaseURL:     getenv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			CallbackURL: getenv("PAYSTACK_CALLBACK_URL", ""),
		},
		Mpesa: MpesaConfig{
			Environment:    strings.ToLower(getenv("MPESA_ENVIRONMENT", "sandbox")),
			ConsumerKey:    strings.TrimSpace(getenv("MPESA_CONSUMER_KEY", "")),
			ConsumerSecret: strings.TrimSpace(getenv("MPESA_CONSUMER_SECRET", "")),
			ShortCode:      strings.TrimSpace(getenv("MPESA_SHORTCODE", "")),
			PassKey:        strings.TrimSpace(getenv("MPESA_PASSKEY", "")),
			CallbackURL:    getenv("MPESA_CALLBACK_URL", ""),
			CallbackToken:  strings.TrimSpace(getenv("MPESA_CALLBACK_TOKEN", "")),
			BaseURL:        strings.TrimSpace(getenv("MPESA_BASE_URL", "")),
		},
	}

	if cfg.Paystack.CallbackURL == "" {
		cfg.Paystack.CallbackURL = cfg.PublicBaseURL + "/register/success"
	}
	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
