// Package metrics exposes Prometheus instruments for the governor.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relves/vaultgate/pkg/types"
)

const (
	namespace = "vaultgate"

	kindLabel      = "kind"
	operationLabel = "operation"
	resultLabel    = "result"
	resourceLabel  = "resource"

	resultOK = "ok"
)

var (
	operationLabels = []string{kindLabel, operationLabel, resultLabel}
	resourceLabels  = []string{resourceLabel}
)

// Metrics records governor activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	operations  *prometheus.CounterVec
	transferred *prometheus.CounterVec
	spent       *prometheus.GaugeVec
	paused      *prometheus.GaugeVec
	frozen      *prometheus.GaugeVec
}

// New creates the instruments and registers them with registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Governor operations by resource kind, operation and result code",
		}, operationLabels),
		transferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_total",
			Help:      "Value moved by executed transfer proposals",
		}, resourceLabels),
		spent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_spent",
			Help:      "Value spent in the current rolling window",
		}, resourceLabels),
		paused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "paused",
			Help:      "1 while a guardian pause is active",
		}, resourceLabels),
		frozen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frozen",
			Help:      "1 while a treasury is frozen",
		}, resourceLabels),
	}

	err := errors.Join(
		registerer.Register(m.operations),
		registerer.Register(m.transferred),
		registerer.Register(m.spent),
		registerer.Register(m.paused),
		registerer.Register(m.frozen),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Observe counts one operation. The result label is the error code, or
// "ok" on success.
func (m *Metrics) Observe(kind types.Kind, operation string, err error) {
	if m == nil {
		return
	}
	result := resultOK
	if err != nil {
		result = types.CodeOf(err)
	}
	m.operations.WithLabelValues(string(kind), operation, result).Inc()
}

// Transferred adds an executed transfer.
func (m *Metrics) Transferred(id types.ResourceID, amount uint64) {
	if m == nil {
		return
	}
	m.transferred.WithLabelValues(string(id)).Add(float64(amount))
}

// SetResource refreshes the gauges of res.
func (m *Metrics) SetResource(res *types.Resource) {
	if m == nil || res == nil {
		return
	}
	id := string(res.ID)
	if res.MovesValue() {
		m.spent.WithLabelValues(id).Set(float64(res.Spend.Spent))
	}
	if res.Kind == types.KindTreasury {
		m.frozen.WithLabelValues(id).Set(boolValue(res.Frozen))
	}
	if res.Pause != nil {
		m.paused.WithLabelValues(id).Set(boolValue(res.Pause.Paused))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
