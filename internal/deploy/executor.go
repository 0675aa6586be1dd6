package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/cfg"
	"github.com/simplesurance/deployd/internal/gitrepo"
	"github.com/simplesurance/deployd/internal/logfields"
)

// Executor runs update attempts for repositories.
// Run must not be called concurrently for the same repository, the
// LockManager ensures it.
type Executor struct {
	store        *Store
	repositories map[string]*cfg.Repository

	vcs           VCS
	installer     Installer
	healthChecker HealthChecker
	retryer       Retryer

	pullTimeout        time.Duration
	installTimeout     time.Duration
	healthCheckTimeout time.Duration

	logger *zap.Logger
}

type ExecutorOption func(*Executor)

// WithHealthChecker sets the HealthChecker that verifies a deployment.
// Without a health checker a deployment succeeds when installing the
// dependencies succeeded.
func WithHealthChecker(hc HealthChecker) ExecutorOption {
	return func(e *Executor) {
		e.healthChecker = hc
	}
}

// WithRetryer sets a Retryer that repeats failed pulls until the pull
// timeout expires.
func WithRetryer(r Retryer) ExecutorOption {
	return func(e *Executor) {
		e.retryer = r
	}
}

// WithTimeouts sets the max. durations of the pull, install and health
// check steps. Zero values are ignored.
func WithTimeouts(pull, install, healthCheck time.Duration) ExecutorOption {
	return func(e *Executor) {
		if pull > 0 {
			e.pullTimeout = pull
		}
		if install > 0 {
			e.installTimeout = install
		}
		if healthCheck > 0 {
			e.healthCheckTimeout = healthCheck
		}
	}
}

// NewExecutor creates an Executor for repos.
// A state for every repository is added to store if it does not exist.
func NewExecutor(
	store *Store,
	repos []*cfg.Repository,
	vcs VCS,
	installer Installer,
	opts ...ExecutorOption,
) *Executor {
	e := Executor{
		store:              store,
		repositories:       make(map[string]*cfg.Repository, len(repos)),
		vcs:                vcs,
		installer:          installer,
		pullTimeout:        cfg.DefPullTimeout,
		installTimeout:     cfg.DefInstallTimeout,
		healthCheckTimeout: cfg.DefHealthCheckTimeout,
		logger:             zap.L().Named(loggerName).Named("executor"),
	}

	for _, opt := range opts {
		opt(&e)
	}

	for _, repo := range repos {
		e.repositories[repo.Name] = repo
		store.Discover(repo.Name)
	}

	return &e
}

// Run runs an update attempt for the repository and stores the resulting
// state.
func (e *Executor) Run(ctx context.Context, name string) Outcome {
	repo, exist := e.repositories[name]
	if !exist {
		e.logger.Warn("update requested for unknown repository", logfields.Repository(name))
		return OutcomeNone
	}

	state, exist := e.store.Get(name)
	if !exist {
		e.logger.Warn("state of repository not found", logfields.Repository(name))
		return OutcomeNone
	}

	logger := e.logger.With(
		logfields.Repository(name),
		logfields.RepositoryPath(repo.Path),
	)

	logger.Debug("update attempt started", logEventUpdateStarted)

	startedAt := time.Now()
	outcome, err := e.update(ctx, logger, repo, &state)
	duration := time.Since(startedAt)

	state.LastAttemptAt = startedAt
	state.LastOutcome = outcome
	if err != nil {
		state.LastError = err.Error()
	} else {
		state.LastError = ""
	}

	if err := e.store.Put(state); err != nil {
		logger.Error("storing repository state failed", zap.Error(err))
	}

	metrics.RecordAttempt(name, outcome, duration)
	metrics.SetBroken(name, state.Broken)

	fields := []zap.Field{
		logEventUpdateFinished,
		logFieldOutcome(outcome),
		logfields.Commit(state.CommitHash),
		zap.Duration("duration", duration),
	}

	switch {
	case outcome.IsDeploymentFailure():
		logger.Error("deploying new commit failed", append(fields, zap.Error(err))...)
	case err != nil:
		logger.Warn("update attempt failed", append(fields, zap.Error(err))...)
	case outcome == OutcomeUnchanged:
		logger.Debug("update attempt finished, repository is up to date", fields...)
	default:
		logger.Info("update attempt finished", fields...)
	}

	return outcome
}

func (e *Executor) update(ctx context.Context, logger *zap.Logger, repo *cfg.Repository, state *RepoState) (Outcome, error) {
	if !state.Initialized {
		if err := e.initState(ctx, logger, repo, state); err != nil {
			return OutcomeVCSFailure, err
		}
	}

	res, err := e.pull(ctx, repo)
	if err != nil {
		logger.Info("pulling repository failed", logEventPullFailed, zap.Error(err))
		return OutcomeVCSFailure, &VCSError{Op: "pull", Err: err}
	}

	if res.OldCommit == res.NewCommit {
		if state.CommitHash != res.NewCommit {
			logger.Info(
				"checked out commit differs from stored one, updating state",
				logfields.Commit(res.NewCommit),
				logfields.PreviousCommit(state.CommitHash),
			)
			state.CommitHash = res.NewCommit
			e.updateCommitCount(ctx, logger, repo, state)
		}

		return OutcomeUnchanged, nil
	}

	logger = logger.With(
		logfields.Commit(res.NewCommit),
		logfields.PreviousCommit(res.OldCommit),
	)

	logger.Info(
		"new commit pulled",
		zap.Int("changed_files", len(res.ChangedFiles)),
	)

	depsChanged := e.dependenciesChanged(ctx, logger, repo, res)

	deployErr := e.verify(ctx, logger, repo, depsChanged)
	if deployErr == nil {
		state.Broken = false
		state.CommitHash = res.NewCommit
		state.PreviousGoodCommit = res.NewCommit
		e.updateCommitCount(ctx, logger, repo, state)

		return OutcomeDeployed, nil
	}

	return e.rollback(ctx, logger, repo, state, res, depsChanged, deployErr)
}

func (e *Executor) initState(ctx context.Context, logger *zap.Logger, repo *cfg.Repository, state *RepoState) error {
	commit, err := e.vcs.CurrentCommit(ctx, repo)
	if err != nil {
		return &VCSError{Op: "reading checked out commit", Err: err}
	}

	state.CommitHash = commit
	state.PreviousGoodCommit = commit
	state.Initialized = true

	if commit != "" {
		e.updateCommitCount(ctx, logger, repo, state)
	}

	logger.Debug("repository state initialized", logfields.Commit(commit))

	return nil
}

func (e *Executor) pull(ctx context.Context, repo *cfg.Repository) (*gitrepo.PullResult, error) {
	ctx, cancelFn := context.WithTimeout(ctx, e.pullTimeout)
	defer cancelFn()

	var res *gitrepo.PullResult

	fn := func(ctx context.Context) error {
		var err error
		res, err = e.vcs.Pull(ctx, repo)
		return err
	}

	var err error
	if e.retryer == nil {
		err = fn(ctx)
	} else {
		err = e.retryer.Run(ctx, fn, []zap.Field{logfields.Repository(repo.Name)})
	}

	if err != nil {
		return nil, err
	}

	if res == nil {
		return nil, errors.New("pull returned no result")
	}

	return res, nil
}

func (e *Executor) updateCommitCount(ctx context.Context, logger *zap.Logger, repo *cfg.Repository, state *RepoState) {
	cnt, err := e.vcs.CommitCount(ctx, repo)
	if err != nil {
		logger.Warn("counting commits failed, keeping previous value", zap.Error(err))
		return
	}

	state.CommitCount = cnt
}

// dependenciesChanged returns true if the content of the dependency file
// differs between the old and new commit.
// If the hashes can not be retrieved, true is returned.
func (e *Executor) dependenciesChanged(ctx context.Context, logger *zap.Logger, repo *cfg.Repository, res *gitrepo.PullResult) bool {
	if repo.DependencyFile == "" {
		return false
	}

	oldHash, err := e.vcs.FileHash(ctx, repo, res.OldCommit, repo.DependencyFile)
	if err != nil {
		logger.Warn(
			"retrieving hash of dependency file failed, assuming it changed",
			zap.String("file", repo.DependencyFile),
			zap.Error(err),
		)
		return true
	}

	newHash, err := e.vcs.FileHash(ctx, repo, res.NewCommit, repo.DependencyFile)
	if err != nil {
		logger.Warn(
			"retrieving hash of dependency file failed, assuming it changed",
			zap.String("file", repo.DependencyFile),
			zap.Error(err),
		)
		return true
	}

	return oldHash != newHash
}

// verify installs the dependencies if they changed and runs the health
// check. It returns an error if the deployment failed.
func (e *Executor) verify(ctx context.Context, logger *zap.Logger, repo *cfg.Repository, depsChanged bool) error {
	if depsChanged {
		if err := e.install(ctx, repo); err != nil {
			return err
		}
	} else {
		logger.Debug("dependency file unchanged, skipping installation")
	}

	if e.healthChecker == nil {
		return nil
	}

	hctx, cancelFn := context.WithTimeout(ctx, e.healthCheckTimeout)
	defer cancelFn()

	err := e.healthChecker.Check(hctx, repo)
	if err == nil {
		return nil
	}

	if repo.HealthCheckMode == cfg.HealthCheckModeAdvisory {
		logger.Warn(
			"health check failed, ignoring it, health check mode is advisory",
			logEventHealthCheckFail,
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("health check failed: %w", err)
}

func (e *Executor) install(ctx context.Context, repo *cfg.Repository) error {
	ictx, cancelFn := context.WithTimeout(ctx, e.installTimeout)
	defer cancelFn()

	if err := e.installer.InstallDependencies(ictx, repo); err != nil {
		return fmt.Errorf("installing dependencies failed: %w", err)
	}

	return nil
}

func (e *Executor) rollback(
	ctx context.Context,
	logger *zap.Logger,
	repo *cfg.Repository,
	state *RepoState,
	res *gitrepo.PullResult,
	depsChanged bool,
	deployErr error,
) (Outcome, error) {
	state.Broken = true
	state.LastFailedCommit = res.NewCommit

	if state.PreviousGoodCommit == "" {
		state.CommitHash = res.NewCommit
		e.updateCommitCount(ctx, logger, repo, state)

		return OutcomeFirstRunFailure, &DeploymentFailure{
			Commit:   res.NewCommit,
			FirstRun: true,
			Err:      deployErr,
		}
	}

	if err := e.vcs.Reset(ctx, repo, state.PreviousGoodCommit); err != nil {
		logger.Error(
			"resetting working copy to previous good commit failed",
			logEventRollbackFailed,
			zap.String("previous_good_commit", state.PreviousGoodCommit),
			zap.Error(err),
		)

		state.CommitHash = res.NewCommit
		e.updateCommitCount(ctx, logger, repo, state)

		return OutcomeRollbackFailed, &DeploymentFailure{
			Commit: res.NewCommit,
			Err:    fmt.Errorf("%w, resetting to %s failed: %s", deployErr, state.PreviousGoodCommit, err),
		}
	}

	if depsChanged {
		if err := e.install(ctx, repo); err != nil {
			logger.Warn(
				"reinstalling dependencies of previous good commit failed",
				zap.Error(err),
			)
		}
	}

	state.Rollbacks++
	state.CommitHash = state.PreviousGoodCommit
	e.updateCommitCount(ctx, logger, repo, state)

	metrics.RollbacksInc(repo.Name)

	logger.Warn(
		"deployment failed, reset working copy to previous good commit",
		logEventRolledBack,
		zap.String("previous_good_commit", state.PreviousGoodCommit),
		zap.Uint64("rollbacks", state.Rollbacks),
		zap.Error(deployErr),
	)

	return OutcomeRolledBack, &DeploymentFailure{Commit: res.NewCommit, Err: deployErr}
}
