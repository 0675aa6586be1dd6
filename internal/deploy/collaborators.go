package deploy

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/cfg"
	"github.com/simplesurance/deployd/internal/gitrepo"
)

//go:generate mockgen -package mocks -destination mocks/mocks.go -source collaborators.go

// VCS provides version control operations on the working copy of a
// repository.
type VCS interface {
	// CurrentCommit returns the commit that is checked out, it returns
	// an empty string if the working copy does not exist.
	CurrentCommit(ctx context.Context, repo *cfg.Repository) (string, error)
	Pull(ctx context.Context, repo *cfg.Repository) (*gitrepo.PullResult, error)
	CommitCount(ctx context.Context, repo *cfg.Repository) (int, error)
	// FileHash returns the hash of the content of the file at path in
	// commit. An empty string is returned if the file does not exist.
	FileHash(ctx context.Context, repo *cfg.Repository, commit, path string) (string, error)
	Reset(ctx context.Context, repo *cfg.Repository, commit string) error
}

// Installer installs the dependencies of a repository.
type Installer interface {
	InstallDependencies(ctx context.Context, repo *cfg.Repository) error
}

// HealthChecker verifies that a deployed repository works.
type HealthChecker interface {
	Check(ctx context.Context, repo *cfg.Repository) error
}

// Authorizer decides if a http request to the trigger endpoint is allowed.
type Authorizer interface {
	Authorized(*http.Request) bool
}

// Retryer runs a function repeatedly until it succeeds with a non-retryable
// error or the context is done.
type Retryer interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
}
