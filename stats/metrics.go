package stats

import "github.com/prometheus/client_golang/prometheus"

// Metrics exports events as Prometheus counters.
type Metrics struct {
	messages *prometheus.CounterVec
	cycles   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "imap2slack",
				Name:      "messages_total",
				Help:      "Number of messages per mailbox and outcome",
			},
			[]string{"mailbox", "event"},
		),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "imap2slack",
				Name:      "poll_cycles_total",
				Help:      "Number of poll cycles by result",
			},
			[]string{"result"},
		),
	}
	if err := reg.Register(m.messages); err != nil {
		return nil, err
	}
	if err := reg.Register(m.cycles); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) Emit(evt Event) {
	m.messages.WithLabelValues(evt.Mailbox, string(evt.Type)).Inc()
}

// Cycle counts a finished poll cycle.
func (m *Metrics) Cycle(err error) {
	if err != nil {
		m.cycles.WithLabelValues("error").Inc()
		return
	}
	m.cycles.WithLabelValues("ok").Inc()
}
