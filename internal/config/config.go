package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/hinge.db"

	// Broker. Empty MQTTBrokerURL selects the in-process transport,
	// which is only useful for dev and tests.
	MQTTBrokerURL string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string

	// Presence
	HeartbeatWindow time.Duration

	// Dispatcher
	AckTimeout     time.Duration
	PublishTimeout time.Duration
	MaxAttempts    int

	// Enrollment
	CodeTTL           time.Duration
	CodeSweepInterval time.Duration

	// Ticket retention
	TicketRetentionDays int // 0 = keep forever
	PruneIntervalHours  int // how often the pruner runs (default 6)
}

func FromEnv() Config {
	addr := getenvDefault("HINGE_HTTP_ADDR", ":8080")

	env := strings.ToLower(getenvDefault("HINGE_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	dbPath := getenvDefault("HINGE_DB_PATH", "./data/hinge.db")

	return Config{
		HTTPAddr: addr,
		Env:      env,
		DBPath:   dbPath,

		MQTTBrokerURL: os.Getenv("HINGE_MQTT_BROKER_URL"),
		MQTTClientID:  getenvDefault("HINGE_MQTT_CLIENT_ID", "hinge-server"),
		MQTTUsername:  os.Getenv("HINGE_MQTT_USERNAME"),
		MQTTPassword:  os.Getenv("HINGE_MQTT_PASSWORD"),

		HeartbeatWindow: getenvSeconds("HINGE_HEARTBEAT_WINDOW_S", 90),

		AckTimeout:     getenvSeconds("HINGE_ACK_TIMEOUT_S", 10),
		PublishTimeout: getenvSeconds("HINGE_PUBLISH_TIMEOUT_S", 2),
		MaxAttempts:    getenvInt("HINGE_MAX_ATTEMPTS", 3),

		CodeTTL:           getenvSeconds("HINGE_CODE_TTL_S", 3600),
		CodeSweepInterval: getenvSeconds("HINGE_CODE_SWEEP_INTERVAL_S", 60),

		TicketRetentionDays: getenvInt("HINGE_TICKET_RETENTION_DAYS", 30),
		PruneIntervalHours:  getenvInt("HINGE_PRUNE_INTERVAL_HOURS", 6),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(getenvInt(key, defSeconds)) * time.Second
}
