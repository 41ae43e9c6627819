package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateConnectionID generates a unique id for a signaling connection.
// Reconnecting users get a fresh connection id while keeping their user id.
func GenerateConnectionID() string {
	return uuid.NewString()
}

// GenerateSessionID generates a unique peer-session id.
func GenerateSessionID() string {
	return fmt.Sprintf("sess_%s", uuid.NewString())
}

// GenerateRequestID generates a unique request id for log correlation.
func GenerateRequestID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
