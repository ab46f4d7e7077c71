package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// NewRequestID returns a random id used to correlate log lines of one request.
func NewRequestID() string {
	return uuid.NewString()
}

// MQTTClientID makes the broker client id unique per process so two backend
// instances never kick each other off the broker.
func MQTTClientID(base string) string {
	id := uuid.New()
	return fmt.Sprintf("%s-%s", base, id.String()[:8])
}
