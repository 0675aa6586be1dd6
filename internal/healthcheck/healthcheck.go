// Package healthcheck verifies that a deployed repository is healthy.
package healthcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/cfg"
	"github.com/simplesurance/deployd/internal/logfields"
	"github.com/simplesurance/deployd/internal/shell"
)

const loggerName = "healthcheck"

type runFunc func(ctx context.Context, dir string, env map[string]string, argv []string) ([]byte, error)

// Checker runs the health check command and probes the health check URL of
// a repository.
type Checker struct {
	logger *zap.Logger
	clt    *http.Client
	run    runFunc
}

func New() *Checker {
	return &Checker{
		logger: zap.L().Named(loggerName),
		clt:    &http.Client{},
		run:    shell.Run,
	}
}

// Configured returns true if a health check command or URL is defined for
// repo.
func Configured(repo *cfg.Repository) bool {
	return len(repo.HealthCheckCommand) > 0 || repo.HealthCheckURL != ""
}

// Check runs the configured health check command in the working copy of
// repo and afterwards sends a GET request to the HealthCheckURL.
// The check fails if the command exits with an error or the response status
// code is not 2xx.
// If nothing is configured, nil is returned.
func (c *Checker) Check(ctx context.Context, repo *cfg.Repository) error {
	if !Configured(repo) {
		return nil
	}

	logger := c.logger.With(logfields.Repository(repo.Name))

	if len(repo.HealthCheckCommand) > 0 {
		out, err := c.run(ctx, repo.Path, nil, repo.HealthCheckCommand)
		if err != nil {
			logger.Debug("health check command failed",
				zap.ByteString("output", out),
				zap.Error(err),
			)

			return fmt.Errorf("health check command failed: %w", err)
		}

		logger.Debug("health check command succeeded")
	}

	if repo.HealthCheckURL != "" {
		if err := c.probe(ctx, repo.HealthCheckURL); err != nil {
			return fmt.Errorf("health check request to %s failed: %w", repo.HealthCheckURL, err)
		}

		logger.Debug("health check url probe succeeded", zap.String("url", repo.HealthCheckURL))
	}

	return nil
}

func (c *Checker) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.clt.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("got unexpected status code: %s", resp.Status)
	}

	return nil
}
