package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServiceName string
	InstanceID  string

	KafkaBrokers  []string
	MessagesTopic string
	StatusTopic   string
	ConsumerGroup string

	RedisAddr string

	ObsHTTPAddr string

	LocalDeliveryDelay time.Duration

	WhatsAppEnabled  bool
	InstagramEnabled bool
	// Simulated provider behavior, tunable for load tests.
	ConnectorFailureRate float64
}

func Load() *Config {
	return &Config{
		ServiceName:          getEnv("SERVICE_NAME", "router-worker"),
		InstanceID:           getEnv("INSTANCE_ID", getEnv("HOSTNAME", "")),
		KafkaBrokers:         strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		MessagesTopic:        getEnv("KAFKA_TOPIC_MESSAGES", "messages"),
		StatusTopic:          getEnv("KAFKA_TOPIC_STATUS", "message-status"),
		ConsumerGroup:        getEnv("KAFKA_CONSUMER_GROUP", "router-worker-group"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		ObsHTTPAddr:          fixPort(getEnv("HTTP_ADDR", ":8094")),
		LocalDeliveryDelay:   getEnvDuration("LOCAL_DELIVERY_DELAY", 100*time.Millisecond),
		WhatsAppEnabled:      getEnvBool("WHATSAPP_ENABLED", true),
		InstagramEnabled:     getEnvBool("INSTAGRAM_ENABLED", true),
		ConnectorFailureRate: getEnvFloat("CONNECTOR_FAILURE_RATE", 0.1),
	}
}

func fixPort(port string) string {
	if port != "" && !strings.HasPrefix(port, ":") {
		return ":" + port
	}
	return port
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true"
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
