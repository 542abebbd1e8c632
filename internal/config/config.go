package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort string
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig

	JWTSecret string

	// AckWindow is how long a restaurant has to move an order out of
	// pending before the supervisor cancels it.
	AckWindow     time.Duration
	NudgeCooldown time.Duration

	DeliveryFee float64
	ServiceFee  float64
	CourierETA  time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
}

func LoadConfig() (*Config, error) {
	// Missing .env is fine, real env vars still apply.
	_ = godotenv.Load()

	ackSeconds, err := strconv.Atoi(getEnv("ORDER_ACK_WINDOW_SECONDS", "120"))
	if err != nil {
		return nil, err
	}
	nudgeSeconds, err := strconv.Atoi(getEnv("ORDER_NUDGE_COOLDOWN_SECONDS", "20"))
	if err != nil {
		return nil, err
	}
	etaMinutes, err := strconv.Atoi(getEnv("COURIER_ETA_MINUTES", "30"))
	if err != nil {
		return nil, err
	}
	deliveryFee, err := strconv.ParseFloat(getEnv("DELIVERY_FEE", "5.00"), 64)
	if err != nil {
		return nil, err
	}
	serviceFee, err := strconv.ParseFloat(getEnv("SERVICE_FEE", "2.00"), 64)
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPPort: getEnv("HTTP_PORT", "3000"),
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DBNAME", "campus_eats"),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
		},
		JWTSecret:     getEnv("JWT_SECRET_KEY", "dev-secret"),
		AckWindow:     time.Duration(ackSeconds) * time.Second,
		NudgeCooldown: time.Duration(nudgeSeconds) * time.Second,
		DeliveryFee:   deliveryFee,
		ServiceFee:    serviceFee,
		CourierETA:    time.Duration(etaMinutes) * time.Minute,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
