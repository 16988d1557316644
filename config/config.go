package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env     string
	API     APIConfig
	Gateway GatewayConfig
	Stub    StubConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Observ  ObservabilityConfig
}

type APIConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	CSRFRetryDelay time.Duration
	VerifyTimeout  time.Duration
}

type GatewayConfig struct {
	ScriptURL string
	KeyID     string
	Currency  string
}

// StubConfig configures the development stub backend.
type StubConfig struct {
	Port      string
	KeySecret string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	requestTimeout, _ := strconv.Atoi(getEnv("API_REQUEST_TIMEOUT_SECONDS", "15"))
	verifyTimeout, _ := strconv.Atoi(getEnv("VERIFY_TIMEOUT_SECONDS", "15"))
	retryDelayMs, _ := strconv.Atoi(getEnv("CSRF_RETRY_DELAY_MS", "100"))

	cfg := &Config{
		Env: getEnv("ENV", "development"),
		API: APIConfig{
			BaseURL:        getEnv("API_BASE_URL", "http://localhost:8000/api"),
			RequestTimeout: time.Duration(requestTimeout) * time.Second,
			CSRFRetryDelay: time.Duration(retryDelayMs) * time.Millisecond,
			VerifyTimeout:  time.Duration(verifyTimeout) * time.Second,
		},
		Gateway: GatewayConfig{
			ScriptURL: getEnv("GATEWAY_SCRIPT_URL", "https://checkout.razorpay.com/v1/checkout.js"),
			KeyID:     getEnv("GATEWAY_KEY_ID", "rzp_test_key"),
			Currency:  getEnv("GATEWAY_CURRENCY", "INR"),
		},
		Stub: StubConfig{
			Port:      getEnv("STUB_PORT", "8000"),
			KeySecret: getEnv("GATEWAY_KEY_SECRET", "stub_secret"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC_PAYMENT_EVENTS", "payment-events"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		},
	}

	log.Printf("Config loaded: env=%s, api=%s", cfg.Env, cfg.API.BaseURL)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
