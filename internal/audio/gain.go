package audio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"voicemesh/internal/core/domain"
	"voicemesh/pkg/validation"

	"go.uber.org/zap"
)

// DefaultGainPercent is applied to participants with no stored setting.
const DefaultGainPercent = 100

// GainRegistry stores per-participant output gain (0-200%). Settings outlive
// peer sessions: they are persisted to disk and re-applied whenever that
// participant shows up again.
type GainRegistry struct {
	path   string
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	gains map[domain.UserID]int
}

// NewGainRegistry loads existing settings from path. A missing or unreadable
// file starts the registry empty rather than failing the session.
func NewGainRegistry(path string, logger *zap.Logger) *GainRegistry {
	r := &GainRegistry{
		path:   path,
		logger: logger.Sugar(),
		gains:  make(map[domain.UserID]int),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warnw("gain settings unreadable, starting fresh", "path", path, "error", err)
		}
		return r
	}
	if err := json.Unmarshal(data, &r.gains); err != nil {
		r.logger.Warnw("gain settings corrupt, starting fresh", "path", path, "error", err)
		r.gains = make(map[domain.UserID]int)
	}
	return r
}

// Get returns the stored gain for a participant, defaulting to 100%.
func (r *GainRegistry) Get(userID domain.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.gains[userID]; ok {
		return g
	}
	return DefaultGainPercent
}

// Set stores and persists a participant's gain.
func (r *GainRegistry) Set(userID domain.UserID, percent int) error {
	if err := validation.ValidateGainPercent(percent); err != nil {
		return err
	}

	r.mu.Lock()
	r.gains[userID] = percent
	data, err := json.MarshalIndent(r.gains, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode gain settings: %w", err)
	}

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write gain settings: %w", err)
	}
	return nil
}

// Apply scales a frame by the participant's gain, clipping at full scale.
// Gains above 100% boost past the native playback ceiling.
func (r *GainRegistry) Apply(userID domain.UserID, frame []int16) {
	percent := r.Get(userID)
	if percent == DefaultGainPercent {
		return
	}
	for i, s := range frame {
		v := int32(s) * int32(percent) / 100
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		frame[i] = int16(v)
	}
}
