package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every environment-derived setting. It is loaded once in main
// and passed to constructors so services never read the environment themselves.
type Config struct {
	Addr        string
	DatabaseURL string
	JWTSecret   string

	// FrontendURL is the base for payment result/redirect pages.
	FrontendURL string

	KhaltiBaseURL     string
	KhaltiSecretKey   string
	EsewaBaseURL      string
	EsewaMerchantCode string
	GatewayTimeout    time.Duration

	// RedisAddr and KafkaBrokers are optional; empty values disable the
	// status cache / payment locks and the event publisher respectively.
	RedisAddr    string
	KafkaBrokers []string
	ServiceName  string
}

func Load() Config {
	return Config{
		Addr:              getenv("KINMEL_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		FrontendURL:       getenv("FRONTEND_URL", "http://localhost:5173"),
		KhaltiBaseURL:     getenv("KHALTI_BASE_URL", "https://dev.khalti.com/api/v2"),
		KhaltiSecretKey:   os.Getenv("KHALTI_SECRET_KEY"),
		EsewaBaseURL:      getenv("ESEWA_BASE_URL", "https://rc-epay.esewa.com.np"),
		EsewaMerchantCode: getenv("ESEWA_MERCHANT_CODE", "EPAYTEST"),
		GatewayTimeout:    time.Duration(getenvInt("GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second,
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		KafkaBrokers:      splitCSV(os.Getenv("KAFKA_BROKERS")),
		ServiceName:       getenv("SERVICE_NAME", "kinmel-api"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
