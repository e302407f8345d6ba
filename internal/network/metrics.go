package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics метрики игрового сервера.
//
// Метрики:
// * blockcraft_tick_duration_seconds - histogram
// * blockcraft_tick_overruns_total - counter
// * blockcraft_sessions_active - gauge
// * blockcraft_packets_in_total{state}, blockcraft_packets_out_total{state} - counter
// * blockcraft_chunks_sent_total - counter
// * blockcraft_disconnects_total{cause} - counter
// * blockcraft_events_dropped_total - counter
// * blockcraft_autosaves_total{result} - counter
type Metrics struct {
	TickDuration   prometheus.Histogram
	TickOverruns   prometheus.Counter
	ActiveSessions prometheus.Gauge
	PacketsIn      *prometheus.CounterVec
	PacketsOut     *prometheus.CounterVec
	ChunksSent     prometheus.Counter
	Disconnects    *prometheus.CounterVec
	EventsDropped  prometheus.Counter
	Autosaves      *prometheus.CounterVec
}

const metricsNamespace = "blockcraft"

// NewMetrics создает метрики и регистрирует их в reg. При reg == nil метрики
// работают, но никуда не экспортируются.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tick_duration_seconds",
			Help:      "Длительность одного тика.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		TickOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tick_overruns_total",
			Help:      "Тики, не уложившиеся в период.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Игроки в фазе play.",
		}),
		PacketsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_in_total",
			Help:      "Принятые пакеты по фазам протокола.",
		}, []string{"state"}),
		PacketsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_out_total",
			Help:      "Отправленные пакеты по фазам протокола.",
		}, []string{"state"}),
		ChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "chunks_sent_total",
			Help:      "Отправленные колонки чанков.",
		}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "disconnects_total",
			Help:      "Отключения по причинам.",
		}, []string{"cause"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "События, не попавшие в шину из-за переполнения очереди.",
		}),
		Autosaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "autosaves_total",
			Help:      "Автосохранения мира по результату.",
		}, []string{"result"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.TickDuration, m.TickOverruns, m.ActiveSessions, m.PacketsIn, m.PacketsOut,
		m.ChunksSent, m.Disconnects, m.EventsDropped, m.Autosaves,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
