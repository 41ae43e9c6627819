package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomCodeRegex validates voice room codes (channel codes)
	RoomCodeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// UserIDRegex validates user ID format
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateRoomCode validates a voice room code
func ValidateRoomCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("room code is required")
	}
	if len(code) > 64 {
		return fmt.Errorf("room code is too long (max 64 characters)")
	}
	if !RoomCodeRegex.MatchString(code) {
		return fmt.Errorf("room code contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateUserID validates a user ID
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("user id is too long (max 64 characters)")
	}
	if !UserIDRegex.MatchString(id) {
		return fmt.Errorf("user id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateDisplayName validates a participant display name
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if utf8.RuneCountInString(name) > 64 {
		return fmt.Errorf("display name is too long (max 64 characters)")
	}
	return nil
}

// ValidateGainPercent validates a per-participant output gain setting.
// The range intentionally exceeds 100 to allow boosting quiet participants.
func ValidateGainPercent(gain int) error {
	if gain < 0 || gain > 200 {
		return fmt.Errorf("gain must be between 0 and 200 percent")
	}
	return nil
}
