// Package logging wraps logrus with the request-scoped field conventions
// used across the API and enclave services.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a process-wide logger for the given service name, honoring
// LOG_LEVEL (default "info").
func New(service string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}

// WithRequest returns an entry pre-populated with the fields every
// mutating-endpoint log line carries.
func WithRequest(log *logrus.Logger, requestID, userID, identityID string) *logrus.Entry {
	fields := logrus.Fields{}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if userID != "" {
		fields["user_id"] = userID
	}
	if identityID != "" {
		fields["identity_id"] = identityID
	}
	return log.WithFields(fields)
}
