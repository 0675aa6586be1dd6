package deployerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	origErr := errors.New("connection reset")

	assert.False(t, IsTransient(origErr))
	assert.True(t, IsTransient(Transient("git pull", origErr)))
	assert.True(t, IsTransient(fmt.Errorf("updating failed: %w", Transient("git pull", origErr))))
}

func TestTransientErrorUnwrap(t *testing.T) {
	origErr := errors.New("rate limited")
	err := TransientAfter("git clone", origErr, time.Now().Add(time.Minute))

	assert.ErrorIs(t, err, origErr)
	assert.Contains(t, err.Error(), "git clone")
	assert.Contains(t, err.Error(), "retry after")
}

func TestClassify(t *testing.T) {
	tcs := []struct {
		name      string
		err       error
		transient bool
	}{
		{
			name:      "dial error",
			err:       &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			transient: true,
		},
		{
			name:      "dns error",
			err:       &net.DNSError{Err: "no such host", Name: "git.example.com"},
			transient: true,
		},
		{
			name:      "connection reset",
			err:       fmt.Errorf("reading pack: %w", syscall.ECONNRESET),
			transient: true,
		},
		{
			name: "authentication error",
			err:  errors.New("authentication required"),
		},
		{
			name: "deadline exceeded",
			err:  fmt.Errorf("fetching: %w", context.DeadlineExceeded),
		},
		{
			name: "cancelled",
			err:  context.Canceled,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify("git pull", tc.err)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)
			assert.Contains(t, err.Error(), "git pull")
			assert.Equal(t, tc.transient, IsTransient(err))
		})
	}
}

func TestClassifyKeepsTransientErrors(t *testing.T) {
	err := TransientAfter("git pull", errors.New("busy"), time.Now().Add(time.Second))
	assert.Same(t, err, Classify("git clone", err))
}

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, Classify("git pull", nil))
}
