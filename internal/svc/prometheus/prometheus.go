package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Instance interface {
	Register(r prometheus.Registerer)

	PresenceWrite()
	LifecycleUpdate(state string)
	ReaderEmit()
	DisconnectHookApplied()
}

type Options struct {
	Labels prometheus.Labels
}

func New(o Options) Instance {
	return &metrics{
		presenceWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "presence_writes_total",
			Help:        "Full-record presence writes.",
			ConstLabels: o.Labels,
		}),
		lifecycleUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "presence_lifecycle_updates_total",
			Help:        "Lifecycle-only partial updates.",
			ConstLabels: o.Labels,
		}, []string{"state"}),
		readerEmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "presence_reader_emits_total",
			Help:        "Snapshots delivered to reader consumers.",
			ConstLabels: o.Labels,
		}),
		disconnectHooks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "presence_disconnect_hooks_applied_total",
			Help:        "Disconnect hook writes applied on behalf of lapsed sessions.",
			ConstLabels: o.Labels,
		}),
	}
}

type metrics struct {
	presenceWrites   prometheus.Counter
	lifecycleUpdates *prometheus.CounterVec
	readerEmits      prometheus.Counter
	disconnectHooks  prometheus.Counter
}

func (m *metrics) Register(r prometheus.Registerer) {
	r.MustRegister(
		m.presenceWrites,
		m.lifecycleUpdates,
		m.readerEmits,
		m.disconnectHooks,
	)
}

func (m *metrics) PresenceWrite() {
	m.presenceWrites.Inc()
}

func (m *metrics) LifecycleUpdate(state string) {
	m.lifecycleUpdates.WithLabelValues(state).Inc()
}

func (m *metrics) ReaderEmit() {
	m.readerEmits.Inc()
}

func (m *metrics) DisconnectHookApplied() {
	m.disconnectHooks.Inc()
}
