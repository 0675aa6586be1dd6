package deploy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/logfields"
)

const metricNamespace = "deployd"

const (
	updateAttemptsMetricName  = "update_attempts_total"
	rollbacksMetricName       = "rollbacks_total"
	triggersMetricName        = "triggers_total"
	webhookEventsMetricName   = "webhook_events_total"
	brokenMetricName          = "repository_broken"
	attemptDurationMetricName = "update_attempt_duration_seconds"
)

const (
	repositoryLabel = "repository"
	outcomeLabel    = "outcome"
	resultLabel     = "result"
)

type webhookResultLabelVal string

const (
	webhookResultSubmitted    webhookResultLabelVal = "submitted"
	webhookResultIgnored      webhookResultLabelVal = "ignored"
	webhookResultUnauthorized webhookResultLabelVal = "unauthorized"
)

type metricCollector struct {
	logger          *zap.Logger
	attempts        *prometheus.CounterVec
	rollbacks       *prometheus.CounterVec
	triggers        *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	broken          *prometheus.GaugeVec
	attemptDuration *prometheus.HistogramVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		attempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      updateAttemptsMetricName,
				Help:      "count of update attempts by outcome",
			},
			[]string{repositoryLabel, outcomeLabel},
		),
		rollbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      rollbacksMetricName,
				Help:      "count of rollbacks to the previous good commit",
			},
			[]string{repositoryLabel},
		),
		triggers: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      triggersMetricName,
				Help:      "count of submitted update triggers by admission result",
			},
			[]string{repositoryLabel, resultLabel},
		),
		webhookEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      webhookEventsMetricName,
				Help:      "count of received webhook events by result",
			},
			[]string{resultLabel},
		),
		broken: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      brokenMetricName,
				Help:      "1 if the last deployment of the repository failed, otherwise 0",
			},
			[]string{repositoryLabel},
		),
		attemptDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      attemptDurationMetricName,
				Help:      "duration of update attempts",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{repositoryLabel},
		),
	}
}

func (m *metricCollector) logGetMetricFailed(metricName string, err error) {
	m.logger.Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

func (m *metricCollector) RecordAttempt(repository string, outcome Outcome, duration time.Duration) {
	cnt, err := m.attempts.GetMetricWith(prometheus.Labels{
		repositoryLabel: repository,
		outcomeLabel:    string(outcome),
	})
	if err != nil {
		m.logGetMetricFailed(updateAttemptsMetricName, err)
	} else {
		cnt.Inc()
	}

	hist, err := m.attemptDuration.GetMetricWith(prometheus.Labels{repositoryLabel: repository})
	if err != nil {
		m.logGetMetricFailed(attemptDurationMetricName, err)
		return
	}

	hist.Observe(duration.Seconds())
}

func (m *metricCollector) RollbacksInc(repository string) {
	cnt, err := m.rollbacks.GetMetricWith(prometheus.Labels{repositoryLabel: repository})
	if err != nil {
		m.logGetMetricFailed(rollbacksMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) SetBroken(repository string, broken bool) {
	gauge, err := m.broken.GetMetricWith(prometheus.Labels{repositoryLabel: repository})
	if err != nil {
		m.logGetMetricFailed(brokenMetricName, err)
		return
	}

	if broken {
		gauge.Set(1)
		return
	}

	gauge.Set(0)
}

func (m *metricCollector) TriggersInc(repository string, result SubmitResult) {
	cnt, err := m.triggers.GetMetricWith(prometheus.Labels{
		repositoryLabel: repository,
		resultLabel:     result.String(),
	})
	if err != nil {
		m.logGetMetricFailed(triggersMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) WebhookEventsInc(result webhookResultLabelVal) {
	cnt, err := m.webhookEvents.GetMetricWith(prometheus.Labels{resultLabel: string(result)})
	if err != nil {
		m.logGetMetricFailed(webhookEventsMetricName, err)
		return
	}

	cnt.Inc()
}
