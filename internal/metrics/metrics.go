// Package metrics implements the Metrics collaborator interface named in
// spec §6: a registry of named timers/counters the core emits into. The
// HTTP exposition endpoint that would serve this registry is an external
// collaborator and stays out of this package; only the registry it would
// serve is implemented here.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Handle is the interface the core depends on. A no-op implementation is
// provided for when metrics=false. opcode/state on the cqlOperation.*
// methods are the numeric wire opcode (e.g. "0x07") and the frame's
// classification (e.g. "query") respectively, per spec §8 scenario 1.
type Handle interface {
	ProxyTime(opcode, state string, d time.Duration)
	RequestTimer(opcode, state string, d time.Duration)
	ServerError(opcode, state string)
	DifferentResult(opcode, state string)
	ClientSocketPaused(clientAddress string, wait bool, d time.Duration)
	ServerSocketPaused(serverAddress, serverIdentifier string, d time.Duration)
}

// Registry is the concrete prometheus-backed Handle. One Registry is
// shared process-wide (it must be safe for concurrent accumulation per
// spec §5's shared-resource policy); the vectors below are all
// concurrency-safe by construction.
type Registry struct {
	proxyTime       *prometheus.HistogramVec
	requestTimer    *prometheus.HistogramVec
	serverErrors    *prometheus.CounterVec
	differentResult *prometheus.CounterVec
	clientPaused    *prometheus.HistogramVec
	serverPaused    *prometheus.HistogramVec
}

// NewRegistry creates and registers the proxy's collectors against reg.
// Pass prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer's registry in production.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		proxyTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cassandraProxy",
			Subsystem: "cqlOperation",
			Name:      "proxyTime",
			Help:      "Time from client-frame receipt to completion of local processing.",
		}, []string{"opcode", "state"}),
		requestTimer: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cassandraProxy",
			Subsystem: "cqlOperation",
			Name:      "timer",
			Help:      "End-to-end request latency.",
		}, []string{"opcode", "state"}),
		serverErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cassandraProxy",
			Subsystem: "cqlOperation",
			Name:      "cqlServerErrorCount",
			Help:      "Responses classified as ERROR.",
		}, []string{"opcode", "state"}),
		differentResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cassandraProxy",
			Subsystem: "cqlOperation",
			Name:      "cqlDifferentResultCount",
			Help:      "Source vs target response bytes differ.",
		}, []string{"opcode", "state"}),
		clientPaused: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cassandraProxy",
			Subsystem: "clientSocket",
			Name:      "paused",
			Help:      "Duration of each backpressure pause on the client socket.",
		}, []string{"clientAddress", "wait"}),
		serverPaused: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cassandraProxy",
			Subsystem: "serverSocket",
			Name:      "paused",
			Help:      "Duration of each backpressure pause on an upstream socket.",
		}, []string{"serverAddress", "serverIdentifier"}),
	}
	reg.MustRegister(r.proxyTime, r.requestTimer, r.serverErrors, r.differentResult, r.clientPaused, r.serverPaused)
	return r
}

func (r *Registry) ProxyTime(opcode, state string, d time.Duration) {
	r.proxyTime.WithLabelValues(opcode, state).Observe(d.Seconds())
}

func (r *Registry) RequestTimer(opcode, state string, d time.Duration) {
	r.requestTimer.WithLabelValues(opcode, state).Observe(d.Seconds())
}

func (r *Registry) ServerError(opcode, state string) {
	r.serverErrors.WithLabelValues(opcode, state).Inc()
}

func (r *Registry) DifferentResult(opcode, state string) {
	r.differentResult.WithLabelValues(opcode, state).Inc()
}

func (r *Registry) ClientSocketPaused(clientAddress string, wait bool, d time.Duration) {
	r.clientPaused.WithLabelValues(clientAddress, boolLabel(wait)).Observe(d.Seconds())
}

func (r *Registry) ServerSocketPaused(serverAddress, serverIdentifier string, d time.Duration) {
	r.serverPaused.WithLabelValues(serverAddress, serverIdentifier).Observe(d.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Noop is the zero-cost Handle used when metrics=false.
type Noop struct{}

func (Noop) ProxyTime(string, string, time.Duration)         {}
func (Noop) RequestTimer(string, string, time.Duration)      {}
func (Noop) ServerError(string, string)                      {}
func (Noop) DifferentResult(string, string)                  {}
func (Noop) ClientSocketPaused(string, bool, time.Duration)  {}
func (Noop) ServerSocketPaused(string, string, time.Duration) {}
