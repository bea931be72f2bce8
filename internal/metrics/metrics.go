// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Action outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

var (
	initOnce sync.Once

	actionsTotalCounter       *prometheus.CounterVec
	messagesTotalCounter      *prometheus.CounterVec
	actionDurationMetric      *prometheus.HistogramVec
	tooBusyCounter            prometheus.Counter
	llmCallsCounter           *prometheus.CounterVec
	agentStepsCounter         *prometheus.CounterVec
	logQueueDepthGauge        prometheus.Gauge
	logWritesFailedCounter    prometheus.Counter
	proposalTransitionCounter *prometheus.CounterVec
	httpRequestsCounter       *prometheus.CounterVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		actionsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_actions_total",
				Help: "Total number of executed protocol actions by request name and outcome.",
			},
			[]string{"action", "outcome"},
		)

		messagesTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_messages_total",
				Help: "Total number of delivered messages by message type.",
			},
			[]string{"type"},
		)

		actionDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketplace_action_duration_seconds",
				Help:    "Duration of protocol action execution including the log append.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		)

		tooBusyCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketplace_store_too_busy_total",
				Help: "Total number of actions rejected because the store was exhausted.",
			},
		)

		llmCallsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_llm_calls_total",
				Help: "Total number of language model calls by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		agentStepsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_agent_steps_total",
				Help: "Total number of agent loop steps by agent kind.",
			},
			[]string{"kind"},
		)

		logQueueDepthGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketplace_log_queue_depth",
				Help: "Number of log records waiting to be written.",
			},
		)

		logWritesFailedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketplace_log_writes_failed_total",
				Help: "Total number of log records that could not be written after retry.",
			},
		)

		proposalTransitionCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_proposal_transitions_total",
				Help: "Total number of proposal ledger transitions by target status.",
			},
			[]string{"status"},
		)

		httpRequestsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_http_requests_total",
				Help: "Total number of HTTP requests by route pattern and status class.",
			},
			[]string{"route", "code"},
		)

		prometheus.MustRegister(
			actionsTotalCounter,
			messagesTotalCounter,
			actionDurationMetric,
			tooBusyCounter,
			llmCallsCounter,
			agentStepsCounter,
			logQueueDepthGauge,
			logWritesFailedCounter,
			proposalTransitionCounter,
			httpRequestsCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, action := range []string{domain.RequestSendMessage, domain.RequestFetchMessages, domain.RequestSearch} {
			for _, outcome := range []string{OutcomeOK, OutcomeInvalid, OutcomeFailed} {
				actionsTotalCounter.WithLabelValues(action, outcome)
			}
		}

		for _, t := range []domain.MessageType{domain.MessageText, domain.MessageOrderProposal, domain.MessagePayment} {
			messagesTotalCounter.WithLabelValues(string(t))
		}

		for _, status := range []domain.ProposalStatus{domain.ProposalAccepted, domain.ProposalRejected} {
			proposalTransitionCounter.WithLabelValues(string(status))
		}
	})
}

func IncAction(action, outcome string) {
	Init()
	actionsTotalCounter.WithLabelValues(action, outcome).Inc()
}

func IncMessage(t domain.MessageType) {
	Init()
	messagesTotalCounter.WithLabelValues(string(t)).Inc()
}

func ObserveActionDuration(action string, d time.Duration) {
	Init()
	actionDurationMetric.WithLabelValues(action).Observe(d.Seconds())
}

func IncTooBusy() {
	Init()
	tooBusyCounter.Inc()
}

func IncLLMCall(provider string, success bool) {
	Init()
	outcome := OutcomeOK
	if !success {
		outcome = OutcomeFailed
	}
	llmCallsCounter.WithLabelValues(provider, outcome).Inc()
}

func IncAgentStep(kind domain.AgentKind) {
	Init()
	agentStepsCounter.WithLabelValues(string(kind)).Inc()
}

func SetLogQueueDepth(n int) {
	Init()
	logQueueDepthGauge.Set(float64(n))
}

func IncLogWriteFailed() {
	Init()
	logWritesFailedCounter.Inc()
}

func IncProposalTransition(status domain.ProposalStatus) {
	Init()
	proposalTransitionCounter.WithLabelValues(string(status)).Inc()
}

// ProposalTransitions reads the current transition count for status.
func ProposalTransitions(status domain.ProposalStatus) float64 {
	Init()
	var m dto.Metric
	if err := proposalTransitionCounter.WithLabelValues(string(status)).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// IncHTTPRequest counts a served request under its status class, e.g. "2xx".
func IncHTTPRequest(route string, status int) {
	Init()
	httpRequestsCounter.WithLabelValues(route, strconv.Itoa(status/100)+"xx").Inc()
}
