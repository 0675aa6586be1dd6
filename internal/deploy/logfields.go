package deploy

import (
	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/logfields"
)

var (
	logEventUpdateStarted    = logfields.Event("update_started")
	logEventUpdateFinished   = logfields.Event("update_finished")
	logEventPullFailed       = logfields.Event("pull_failed")
	logEventRolledBack       = logfields.Event("rolled_back")
	logEventRollbackFailed   = logfields.Event("rollback_failed")
	logEventHealthCheckFail  = logfields.Event("health_check_failed")
	logEventTriggerCoalesced = logfields.Event("trigger_coalesced")
	logEventEventIgnored     = logfields.Event("webhook_event_ignored")
	logEventUnauthorized     = logfields.Event("webhook_event_unauthorized")
	logEventStateSaveFailed  = logfields.Event("state_save_failed")
	logEventAllTriggered     = logfields.Event("all_repositories_triggered")
)

func logFieldOutcome(o Outcome) zap.Field {
	return zap.String("outcome", string(o))
}

func logFieldReason(reason string) zap.Field {
	return zap.String("reason", reason)
}
