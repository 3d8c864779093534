// Package config loads the environment-variable configuration recognized by
// the API and enclave services (spec §6).
package config

import (
	"os"
	"strconv"
	"time"
)

// APIConfig configures the client-facing API service.
type APIConfig struct {
	Port                 string
	EnclaveBaseURL       string
	InternalAPIKey       string
	TicketSigningSecret  string
	SessionSigningSecret string
	TicketTTL            time.Duration
	SessionTTL           time.Duration
	ChallengeTTL         time.Duration
	BackupFilePath       string
	RateLimitWindow      time.Duration
	RateLimitPerUser     int
	RateLimitPerIdentity int
	OutboundHeadroom     time.Duration
}

// EnclaveConfig configures the enclave service.
type EnclaveConfig struct {
	Port                string
	InternalAPIKey      string
	TicketSigningSecret string
	SealingKey          string
	KMSKeyARN           string
	AWSRegion           string
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getenvInt(key, fallbackSeconds)) * time.Second
}

func getenvMillis(key string, fallbackMillis int) time.Duration {
	return time.Duration(getenvInt(key, fallbackMillis)) * time.Millisecond
}

// LoadAPIConfig reads the API service's configuration from the environment.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Port:                 getenv("API_PORT", "8080"),
		EnclaveBaseURL:       getenv("ENCLAVE_BASE_URL", "http://localhost:8081"),
		InternalAPIKey:       os.Getenv("INTERNAL_API_KEY"),
		TicketSigningSecret:  os.Getenv("TICKET_SIGNING_SECRET"),
		SessionSigningSecret: os.Getenv("SESSION_SIGNING_SECRET"),
		TicketTTL:            getenvSeconds("TICKET_TTL_SECONDS", 90),
		SessionTTL:           getenvSeconds("SESSION_TTL_SECONDS", 3600),
		ChallengeTTL:         getenvSeconds("CHALLENGE_TTL_SECONDS", 600),
		BackupFilePath:       getenv("BACKUP_FILE_PATH", "./backups.json"),
		RateLimitWindow:      getenvMillis("RATE_LIMIT_WINDOW_MS", 60000),
		RateLimitPerUser:     getenvInt("RATE_LIMIT_PER_USER", 30),
		RateLimitPerIdentity: getenvInt("RATE_LIMIT_PER_IDENTITY_SIGN", 10),
		OutboundHeadroom:     getenvMillis("OUTBOUND_HEADROOM_MS", 500),
	}
}

// LoadEnclaveConfig reads the enclave service's configuration from the
// environment.
func LoadEnclaveConfig() EnclaveConfig {
	return EnclaveConfig{
		Port:                getenv("ENCLAVE_PORT", "8081"),
		InternalAPIKey:      os.Getenv("INTERNAL_API_KEY"),
		TicketSigningSecret: os.Getenv("TICKET_SIGNING_SECRET"),
		SealingKey:          os.Getenv("SEALING_KEY"),
		KMSKeyARN:           os.Getenv("KMS_KEY_ARN"),
		AWSRegion:           os.Getenv("AWS_REGION"),
	}
}
