package reliability

import (
	"context"
	"errors"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/circuitbreaker"
	"voicemesh/pkg/retry"

	"go.uber.org/zap"
)

// RoomRepositoryWrapper shields the relay from a flaky registry backend.
// Transient failures are retried; a persistently failing backend trips the
// breaker so signaling handlers fail fast instead of piling up.
//
// Domain errors (room/participant not found, room full) are results, not
// faults: they bypass retry and never count against the breaker.
type RoomRepositoryWrapper struct {
	inner    ports.RoomRepository
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg retry.Config
	logger   *zap.SugaredLogger
}

func WrapRoomRepository(inner ports.RoomRepository, logger *zap.Logger) *RoomRepositoryWrapper {
	w := &RoomRepositoryWrapper{
		inner:   inner,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		retryCfg: retry.Config{
			MaxAttempts:  2,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			Multiplier:   2.0,
			Jitter:       true,
			NonRetryableErrors: []error{
				domain.ErrRoomNotFound,
				domain.ErrParticipantNotFound,
				domain.ErrRoomFull,
				context.Canceled,
			},
		},
		logger: logger.Sugar(),
	}
	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		w.logger.Warnw("room repository breaker state changed", "from", from.String(), "to", to.String())
	})
	return w
}

func (w *RoomRepositoryWrapper) execute(ctx context.Context, op string, fn func() error) error {
	var opErr error
	err := w.breaker.Execute(ctx, func() error {
		opErr = retry.Do(ctx, w.retryCfg, fn)
		if isDomainErr(opErr) {
			return nil // domain results are not backend faults
		}
		return opErr
	})
	if err != nil {
		opErr = err
	}
	if opErr != nil && !isDomainErr(opErr) {
		w.logger.Warnw("room repository operation failed", "op", op, "error", opErr)
	}
	return opErr
}

func isDomainErr(err error) bool {
	if err == nil {
		return false
	}
	for _, d := range []error{domain.ErrRoomNotFound, domain.ErrParticipantNotFound, domain.ErrRoomFull} {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}

func (w *RoomRepositoryWrapper) Join(ctx context.Context, roomID domain.RoomID, p domain.VoiceParticipant) ([]domain.VoiceParticipant, error) {
	var out []domain.VoiceParticipant
	err := w.execute(ctx, "join", func() error {
		var err error
		out, err = w.inner.Join(ctx, roomID, p)
		return err
	})
	return out, err
}

func (w *RoomRepositoryWrapper) Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) ([]domain.VoiceParticipant, bool, error) {
	var (
		out  []domain.VoiceParticipant
		left bool
	)
	err := w.execute(ctx, "leave", func() error {
		var err error
		out, left, err = w.inner.Leave(ctx, roomID, userID)
		return err
	})
	return out, left, err
}

func (w *RoomRepositoryWrapper) Participant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.VoiceParticipant, error) {
	var out domain.VoiceParticipant
	err := w.execute(ctx, "participant", func() error {
		var err error
		out, err = w.inner.Participant(ctx, roomID, userID)
		return err
	})
	return out, err
}

func (w *RoomRepositoryWrapper) Participants(ctx context.Context, roomID domain.RoomID) ([]domain.VoiceParticipant, error) {
	var out []domain.VoiceParticipant
	err := w.execute(ctx, "participants", func() error {
		var err error
		out, err = w.inner.Participants(ctx, roomID)
		return err
	})
	return out, err
}

func (w *RoomRepositoryWrapper) SetSharer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, hasAudio bool) error {
	return w.execute(ctx, "set_sharer", func() error {
		return w.inner.SetSharer(ctx, roomID, userID, hasAudio)
	})
}

func (w *RoomRepositoryWrapper) ClearSharer(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return w.execute(ctx, "clear_sharer", func() error {
		return w.inner.ClearSharer(ctx, roomID, userID)
	})
}

func (w *RoomRepositoryWrapper) Sharers(ctx context.Context, roomID domain.RoomID) ([]domain.ScreenSharer, error) {
	var out []domain.ScreenSharer
	err := w.execute(ctx, "sharers", func() error {
		var err error
		out, err = w.inner.Sharers(ctx, roomID)
		return err
	})
	return out, err
}

func (w *RoomRepositoryWrapper) Rooms(ctx context.Context) ([]domain.RoomSummary, error) {
	var out []domain.RoomSummary
	err := w.execute(ctx, "rooms", func() error {
		var err error
		out, err = w.inner.Rooms(ctx)
		return err
	})
	return out, err
}

var _ ports.RoomRepository = (*RoomRepositoryWrapper)(nil)
