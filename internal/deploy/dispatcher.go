package deploy

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/logfields"
	"github.com/simplesurance/deployd/internal/provider"
)

const loggerName = "deploy"

// DispatchResult describes how a webhook event was processed.
type DispatchResult int

const (
	// DispatchNoOp means that the event did not refer to a tracked
	// repository.
	DispatchNoOp DispatchResult = iota
	// DispatchSubmitted means that an update attempt was submitted.
	DispatchSubmitted
	// DispatchSubmittedAll means that the event did not identify a
	// repository and update attempts for all repositories were submitted.
	DispatchSubmittedAll
)

func (r DispatchResult) String() string {
	switch r {
	case DispatchSubmitted:
		return "submitted"
	case DispatchSubmittedAll:
		return "submitted_all"
	default:
		return "noop"
	}
}

// Runner runs an update attempt for a repository.
type Runner interface {
	Run(ctx context.Context, name string) Outcome
}

// Dispatcher verifies webhook events and submits update attempts for the
// repositories they refer to.
type Dispatcher struct {
	secret   []byte
	store    *Store
	lockMgr  *LockManager
	runner   Runner
	resolver *Resolver
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher.
// If secret is empty, the authenticity of events is not verified.
func NewDispatcher(secret string, store *Store, lockMgr *LockManager, runner Runner, resolver *Resolver) *Dispatcher {
	return &Dispatcher{
		secret:   []byte(secret),
		store:    store,
		lockMgr:  lockMgr,
		runner:   runner,
		resolver: resolver,
		logger:   zap.L().Named(loggerName).Named("dispatcher"),
	}
}

// Handle processes a webhook event.
// If the secret of the event is invalid, ErrUnauthorized is returned and
// nothing else happens. Otherwise the last run time is updated and, if the
// event refers to a tracked repository, an update attempt is submitted
// without waiting for it to finish.
// Events that carry no repository identifier, like the manual refresh of
// the dashboard, submit update attempts for all repositories.
func (d *Dispatcher) Handle(ctx context.Context, ev *provider.Event) (DispatchResult, error) {
	logger := d.logger.With(ev.LogFields()...)

	if err := d.verify(ev); err != nil {
		metrics.WebhookEventsInc(webhookResultUnauthorized)
		logger.Info("rejecting webhook event", logEventUnauthorized, zap.Error(err))
		return DispatchNoOp, err
	}

	defer d.store.SetLastRun(time.Now())

	name, err := d.resolver.Resolve(ctx, ev)
	if errors.Is(err, ErrNoRepositoryIdentifier) {
		metrics.WebhookEventsInc(webhookResultSubmitted)
		logger.Info(
			"webhook event does not identify a repository, updating all repositories",
			logEventAllTriggered,
		)
		d.submitAll()
		return DispatchSubmittedAll, nil
	}
	if err != nil {
		metrics.WebhookEventsInc(webhookResultIgnored)
		logger.Info(
			"ignoring webhook event, resolving repository failed",
			logEventEventIgnored,
			zap.Error(err),
		)
		return DispatchNoOp, nil
	}

	if name == "" {
		metrics.WebhookEventsInc(webhookResultIgnored)
		logger.Debug(
			"ignoring webhook event, it does not refer to a repository",
			logEventEventIgnored,
		)
		return DispatchNoOp, nil
	}

	logger = logger.With(logfields.Repository(name))

	if !d.store.Exists(name) {
		metrics.WebhookEventsInc(webhookResultIgnored)
		logger.Info(
			"ignoring webhook event",
			logEventEventIgnored,
			logFieldReason(ErrUnknownRepo.Error()),
		)
		return DispatchNoOp, nil
	}

	metrics.WebhookEventsInc(webhookResultSubmitted)
	d.submit(logger, name)

	return DispatchSubmitted, nil
}

func (d *Dispatcher) verify(ev *provider.Event) error {
	if len(d.secret) == 0 {
		return nil
	}

	if ev.Signature != "" {
		if err := github.ValidateSignature(ev.Signature, ev.RawBody, d.secret); err != nil {
			return errors.Join(ErrUnauthorized, err)
		}

		return nil
	}

	if ev.Token == "" {
		return errors.Join(ErrUnauthorized, errors.New("event contains no token"))
	}

	if subtle.ConstantTimeCompare([]byte(ev.Token), d.secret) != 1 {
		return ErrUnauthorized
	}

	return nil
}

// TriggerAll submits an update attempt for every tracked repository and
// updates the last run time.
func (d *Dispatcher) TriggerAll() int {
	defer d.store.SetLastRun(time.Now())

	cnt := d.submitAll()

	d.logger.Info(
		"triggered updates for all repositories",
		logEventAllTriggered,
		zap.Int("count", cnt),
	)

	return cnt
}

func (d *Dispatcher) submitAll() int {
	names := d.store.Names()
	for _, name := range names {
		d.submit(d.logger.With(logfields.Repository(name)), name)
	}

	return len(names)
}

func (d *Dispatcher) submit(logger *zap.Logger, name string) {
	res := d.lockMgr.Submit(name, func() {
		d.runner.Run(context.Background(), name)
	})

	metrics.TriggersInc(name, res)

	logger.Debug("update attempt submitted", zap.Stringer("admission", res))
}
