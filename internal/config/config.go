package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

const (
	defaultJWTSecret  = "dev-secret-change-me"
	defaultTURNSecret = "dev-turn-secret"
)

type Config struct {
	Port        string
	DatabaseDSN string
	JWTSecret   string
	Env         string
	LogLevel    string

	// NATSURL selects the NATS bridge and presence directory. Empty runs
	// single-node with in-process fanout.
	NATSURL           string
	NATSSubjectPrefix string
	PresenceBucket    string
	NodeID            string

	// PresenceNodeTTLSeconds is how long a silent node's connection counts
	// keep counting before the other nodes ignore them.
	PresenceNodeTTLSeconds int

	TURNSecret     string
	TURNServer     string
	TURNTTLSeconds int

	CallRingTimeoutSeconds int
	OTELEndpoint           string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getint falls back to def for missing, malformed or negative values.
func getint(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n < 0 {
		return def
	}
	return n
}

func Load() Config {
	host, _ := os.Hostname()
	return Config{
		Port:                   getenv("APP_PORT", "8080"),
		DatabaseDSN:            getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatrelay port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:              getenv("JWT_SECRET", defaultJWTSecret),
		Env:                    getenv("APP_ENV", "dev"),
		LogLevel:               getenv("LOG_LEVEL", "info"),
		NATSURL:                os.Getenv("NATS_URL"),
		NATSSubjectPrefix:      getenv("NATS_SUBJECT_PREFIX", "chatrelay"),
		PresenceBucket:         getenv("PRESENCE_BUCKET", "chatrelay_presence"),
		NodeID:                 getenv("NODE_ID", getenv("HOSTNAME", host)),
		PresenceNodeTTLSeconds: getint("PRESENCE_NODE_TTL_SECONDS", 30),
		TURNSecret:             getenv("TURN_SECRET", defaultTURNSecret),
		TURNServer:             getenv("TURN_SERVER", "localhost"),
		TURNTTLSeconds:         getint("TURN_TTL_SECONDS", 86400),
		CallRingTimeoutSeconds: getint("CALL_RING_TIMEOUT_SECONDS", 45),
		OTELEndpoint:           os.Getenv("OTEL_ENDPOINT"),
	}
}

func (c Config) TURNTTL() time.Duration { return time.Duration(c.TURNTTLSeconds) * time.Second }

func (c Config) PresenceNodeTTL() time.Duration {
	return time.Duration(c.PresenceNodeTTLSeconds) * time.Second
}

func (c Config) RingTimeout() time.Duration {
	return time.Duration(c.CallRingTimeoutSeconds) * time.Second
}

// Validate rejects configurations the server must not start with.
func Validate(c Config) error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("APP_PORT is empty"))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is empty"))
	}
	if c.Env != "dev" && (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) {
		errs = append(errs, errors.New("JWT_SECRET must be set outside dev"))
	}
	if c.Env != "dev" && (c.TURNSecret == "" || c.TURNSecret == defaultTURNSecret) {
		errs = append(errs, errors.New("TURN_SECRET must be set outside dev"))
	}
	if c.PresenceNodeTTLSeconds < 3 {
		errs = append(errs, errors.New("PRESENCE_NODE_TTL_SECONDS must be at least 3"))
	}
	if c.NATSURL != "" && c.NodeID == "" {
		errs = append(errs, errors.New("NODE_ID is required with NATS_URL"))
	}
	return errors.Join(errs...)
}
