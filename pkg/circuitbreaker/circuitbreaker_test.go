package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             20 * time.Millisecond,
		MaxRequestsHalfOpen: 2,
	}
}

var errDown = errors.New("backend down")

func tripBreaker(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return errDown })
	}
	require.Equal(t, StateOpen, cb.State())
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(testConfig())
	assert.Equal(t, StateClosed, cb.State())
	tripBreaker(t, cb)
}

func TestOpenRejectsImmediately(t *testing.T) {
	cb := New(testConfig())
	tripBreaker(t, cb)

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}

func TestHalfOpenClosesAfterSuccesses(t *testing.T) {
	cb := New(testConfig())
	tripBreaker(t, cb)

	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	cb := New(testConfig())
	tripBreaker(t, cb)

	time.Sleep(25 * time.Millisecond)
	_ = cb.Execute(context.Background(), func() error { return errDown })
	assert.Equal(t, StateOpen, cb.State())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(testConfig())

	_ = cb.Execute(context.Background(), func() error { return errDown })
	_ = cb.Execute(context.Background(), func() error { return errDown })
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	_ = cb.Execute(context.Background(), func() error { return errDown })
	_ = cb.Execute(context.Background(), func() error { return errDown })

	// Two failures after a success should not trip a threshold of three.
	assert.Equal(t, StateClosed, cb.State())
}

func TestStateChangeCallback(t *testing.T) {
	cb := New(testConfig())

	var transitions []string
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	tripBreaker(t, cb)
	assert.Equal(t, []string{"closed->open"}, transitions)
}
