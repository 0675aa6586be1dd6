// Package retryer runs operations repeatedly until they succeed, fail with a
// permanent error or a timeout expires.
package retryer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/deployerr"
	"github.com/simplesurance/deployd/internal/logfields"
)

// DefTimeout is the maximum duration an operation is retried when the
// passed context has no deadline.
const DefTimeout = 10 * time.Minute

// ErrStopped is returned by Run when the Retryer was stopped.
var ErrStopped = errors.New("retryer stopped")

// Retryer executes a function repeatedly until it was successful or cancel
// condition happened.
type Retryer struct {
	logger       *zap.Logger
	shutdownChan chan struct{}

	defTimeout                 time.Duration
	backoffInitialInterval     time.Duration
	backoffRandomizationFactor float64
	backoffMaxInterval         time.Duration
}

func New() *Retryer {
	return &Retryer{
		logger:                     zap.L().Named("retryer"),
		shutdownChan:               make(chan struct{}),
		defTimeout:                 DefTimeout,
		backoffInitialInterval:     2 * time.Second,
		backoffRandomizationFactor: backoff.DefaultRandomizationFactor,
		backoffMaxInterval:         time.Minute,
	}
}

func (r *Retryer) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	bo.MaxInterval = r.backoffMaxInterval
	// the retry duration is limited via the context
	bo.MaxElapsedTime = 0
	bo.Reset()

	return bo
}

func logFieldActionResult(val string) zap.Field {
	return zap.String("action_result", val)
}

// Run executes fn until it was successful, it returned an error that
// does not wrap deployerr.TransientError or the execution was aborted via the
// context.
// If ctx has no deadline, retrying is aborted after DefTimeout.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	var tryCnt uint

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancelFn context.CancelFunc
		ctx, cancelFn = context.WithTimeout(ctx, r.defTimeout)
		defer cancelFn()
	}

	deadline, _ := ctx.Deadline()

	retryTimer := time.NewTimer(0)
	defer retryTimer.Stop()

	bo := r.newBackoff()

	for {
		tryCnt++
		logger := r.logger.With(logF...).With(zap.Uint("try_count", tryCnt))

		select {
		case <-ctx.Done():
			logger.Info(
				"operation execution cancelled",
				logfields.Event("operation_execution_cancelled"),
				logFieldActionResult("cancelled"),
				zap.Error(ctx.Err()),
			)

			return ctx.Err()

		case <-retryTimer.C:
			logger.Debug(
				"running operation",
				logfields.Event("operation_running"),
				zap.Duration("age", bo.GetElapsedTime()),
			)

			err := fn(ctx)
			if err == nil {
				logger.Debug(
					"operation executed successfully",
					logfields.Event("operation_executed_successfully"),
					logFieldActionResult("success"),
				)

				return nil
			}

			logger = logger.With(zap.Error(err))

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Info(
					"operation cancelled",
					logfields.Event("operation_cancelled"),
					logFieldActionResult("cancelled"),
				)

				return err
			}

			var retryError *deployerr.TransientError
			if !errors.As(err, &retryError) {
				logger.Info(
					"operation failed, not retryable",
					logfields.Event("operation_failed"),
					logFieldActionResult("failure"),
				)

				return err
			}

			if retryError.RetryAfter.After(deadline) {
				logger.Info(
					"operation failed, next possible retry time is after timeout expiration",
					logfields.Event("operation_failed"),
					zap.Time("earliest_allowed_retry", retryError.RetryAfter),
					logFieldActionResult("failure"),
				)

				return err
			}

			var retryIn time.Duration
			if retryError.RetryAfter.IsZero() {
				retryIn = bo.NextBackOff()
			} else {
				retryIn = time.Until(retryError.RetryAfter)
				if retryIn < r.backoffInitialInterval {
					retryIn = bo.NextBackOff()
				}
			}

			retryTimer.Reset(retryIn)
			logger.Info(
				"operation failed, retry scheduled",
				logfields.Event("operation_retry_scheduled"),
				zap.Duration("retry_in", retryIn),
			)

		case <-r.shutdownChan:
			logger.Info(
				"retryer terminating, operation not executed",
				logfields.Event("operation_execution_cancelled_retryer_terminated"),
				logFieldActionResult("cancelled"),
			)

			return ErrStopped
		}
	}
}

// Stop notifies all Run() methods to terminate.
// It does not wait for their termination.
func (r *Retryer) Stop() {
	r.logger.Debug("retryer terminating", logfields.Event("retryer_terminating"))

	select {
	case <-r.shutdownChan:
		return // already closed
	default:
		close(r.shutdownChan)
	}
}
