package healthcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/deployd/internal/cfg"
)

func newRepo(t *testing.T, url string, cmd ...string) *cfg.Repository {
	return &cfg.Repository{
		Name: "app",
		Path: t.TempDir(),
		RepositoryDefaults: cfg.RepositoryDefaults{
			HealthCheckCommand: cmd,
			HealthCheckURL:     url,
		},
	}
}

func TestCheckNothingConfigured(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	repo := newRepo(t, "")
	assert.False(t, Configured(repo))
	assert.NoError(t, New().Check(context.Background(), repo))
}

func TestCheckCommand(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	repo := newRepo(t, "", "sh", "-c", "exit 0")
	assert.True(t, Configured(repo))
	assert.NoError(t, New().Check(context.Background(), repo))

	repo = newRepo(t, "", "sh", "-c", "echo SyntaxError; exit 1")
	err := New().Check(context.Background(), repo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SyntaxError")
}

func TestCheckURL(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthy" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	assert.NoError(t, New().Check(context.Background(), newRepo(t, srv.URL+"/healthy")))

	err := New().Check(context.Background(), newRepo(t, srv.URL+"/unhealthy"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestCheckCommandFailureSkipsURL(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	t.Cleanup(srv.Close)

	err := New().Check(context.Background(), newRepo(t, srv.URL, "false"))
	require.Error(t, err)
	assert.Zero(t, requests)
}

func TestCheckURLTimeout(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(block) })

	ctx, cancelFn := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelFn()

	err := New().Check(ctx, newRepo(t, srv.URL))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
