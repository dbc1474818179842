package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarityio/dataminr-pulse-limited/core"
)

func TestCircuitBreaker_ClosedAllowsExecution(t *testing.T) {
	cb, err := New(DefaultConfig("gateway"))
	require.NoError(t, err)

	err = cb.Execute(context.Background(), func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, err := New(&Config{
		Name:             "vendor-api",
		ErrorThreshold:   0.5,
		VolumeThreshold:  4,
		SleepWindow:      time.Minute,
		HalfOpenRequests: 1,
		SuccessThreshold: 0.6,
		WindowSize:       time.Minute,
		BucketCount:      10,
	})
	require.NoError(t, err)

	failing := errors.New("upstream unavailable")
	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return failing })
	}

	assert.Equal(t, StateOpen, cb.State())

	called := false
	err = cb.Execute(context.Background(), func() error { called = true; return nil })
	assert.False(t, called, "fn must not run immediately after opening")
	assert.Error(t, err)
}

func TestCircuitBreaker_RejectsWhileOpen(t *testing.T) {
	cb, err := New(&Config{
		Name:             "vendor-api",
		ErrorThreshold:   0.1,
		VolumeThreshold:  1,
		SleepWindow:      time.Minute,
		HalfOpenRequests: 1,
		SuccessThreshold: 0.6,
		WindowSize:       time.Minute,
		BucketCount:      10,
	})
	require.NoError(t, err)

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	called := false
	execErr := cb.Execute(context.Background(), func() error { called = true; return nil })
	assert.False(t, called, "fn must not run while circuit is open")
	assert.Error(t, execErr)
}

func TestCircuitBreaker_HalfOpenRecoversOnSuccess(t *testing.T) {
	cb, err := New(&Config{
		Name:             "vendor-api",
		ErrorThreshold:   0.1,
		VolumeThreshold:  1,
		SleepWindow:      10 * time.Millisecond,
		HalfOpenRequests: 1,
		SuccessThreshold: 0.5,
		WindowSize:       time.Minute,
		BucketCount:      10,
	})
	require.NoError(t, err)

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	err = cb.Execute(context.Background(), func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ConfigurationErrorsDontCount(t *testing.T) {
	cb, err := New(&Config{
		Name:             "vendor-api",
		ErrorThreshold:   0.1,
		VolumeThreshold:  1,
		SleepWindow:      time.Minute,
		HalfOpenRequests: 1,
		SuccessThreshold: 0.6,
		WindowSize:       time.Minute,
		BucketCount:      10,
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return core.NewOpError("gateway.Request", "config", core.ErrMissingConfiguration)
		})
	}
	assert.Equal(t, StateClosed, cb.State())
}
