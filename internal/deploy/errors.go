package deploy

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("invalid webhook secret")
	ErrUnknownRepo  = errors.New("repository is not tracked")
	// ErrNoRepositoryIdentifier is returned by the Resolver when an event
	// carries no information about a repository at all.
	ErrNoRepositoryIdentifier = errors.New("event does not identify a repository")
)

// VCSError is returned when a version control operation failed.
// A VCSError does not mark a repository as broken.
type VCSError struct {
	Op  string
	Err error
}

func (e *VCSError) Error() string {
	return fmt.Sprintf("vcs: %s failed: %s", e.Op, e.Err)
}

func (e *VCSError) Unwrap() error {
	return e.Err
}

// DeploymentFailure is returned when a new commit could not be deployed
// because installing the dependencies or the health check failed.
type DeploymentFailure struct {
	Commit string
	// FirstRun is true if no previously deployed commit existed that
	// could be restored.
	FirstRun bool
	Err      error
}

func (e *DeploymentFailure) Error() string {
	if e.FirstRun {
		return fmt.Sprintf("deploying %s failed, no previous good commit exists: %s", e.Commit, e.Err)
	}

	return fmt.Sprintf("deploying %s failed: %s", e.Commit, e.Err)
}

func (e *DeploymentFailure) Unwrap() error {
	return e.Err
}
