package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr      string
	DBDSN         string
	JWTSecret     string
	JWTTTL        time.Duration
	InternalToken string
	CORSOrigin    string
	ProofDir      string
	KafkaBrokers  []string
	KafkaTopic    string
	LogLevel      string
	LogFormat     string
}

func Load() (Config, error) {
	// .env is a development convenience, real deployments set the
	// environment directly.
	_ = godotenv.Load()

	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		c.JWTTTL = 24 * time.Hour
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, errors.New("invalid JWT_TTL")
		}
		c.JWTTTL = d
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	c.CORSOrigin = os.Getenv("CORS_ORIGIN")
	if c.CORSOrigin == "" {
		c.CORSOrigin = "*"
	}
	c.ProofDir = os.Getenv("PROOF_DIR")
	if c.ProofDir == "" {
		c.ProofDir = "./data/proofs"
	}
	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, b)
			}
		}
	}
	c.KafkaTopic = os.Getenv("KAFKA_AUDIT_TOPIC")
	if c.KafkaTopic == "" {
		c.KafkaTopic = "fund_audit_events"
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}
