// Package metrics exposes Prometheus counters for codec activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"

	OutcomeDone   = "done"
	OutcomeFailed = "failed"
)

// Metrics holds the codec counters. A nil *Metrics is valid and records nothing,
// so codecs built without metrics pay only a nil check.
type Metrics struct {
	handshakes *prometheus.CounterVec
	failures   *prometheus.CounterVec

	plaintextIn   prometheus.Counter
	plaintextOut  prometheus.Counter
	ciphertextIn  prometheus.Counter
	ciphertextOut prometheus.Counter

	handshakesDone   prometheus.Counter
	handshakesFailed prometheus.Counter
}

// New creates the counters and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		handshakes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlscodec_handshakes_total",
				Help: "Completed TLS handshakes by outcome",
			},
			[]string{"outcome"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlscodec_failures_total",
				Help: "Failed codec operations by operation and failure kind",
			},
			[]string{"op", "kind"},
		),
	}

	plaintext := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlscodec_plaintext_bytes_total",
			Help: "Plaintext bytes consumed by encode (out) or produced by decode (in)",
		},
		[]string{"direction"},
	)
	ciphertext := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlscodec_ciphertext_bytes_total",
			Help: "Ciphertext bytes consumed from (in) or produced for (out) the peer",
		},
		[]string{"direction"},
	)

	m.plaintextIn = plaintext.WithLabelValues(DirectionIn)
	m.plaintextOut = plaintext.WithLabelValues(DirectionOut)
	m.ciphertextIn = ciphertext.WithLabelValues(DirectionIn)
	m.ciphertextOut = ciphertext.WithLabelValues(DirectionOut)
	m.handshakesDone = m.handshakes.WithLabelValues(OutcomeDone)
	m.handshakesFailed = m.handshakes.WithLabelValues(OutcomeFailed)
	return m
}

func (m *Metrics) HandshakeDone() {
	if m == nil {
		return
	}
	m.handshakesDone.Inc()
}

func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.handshakesFailed.Inc()
}

// Failure counts a failed operation. op is handshake, encode or decode.
func (m *Metrics) Failure(op, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) Plaintext(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	if direction == DirectionIn {
		m.plaintextIn.Add(float64(n))
	} else {
		m.plaintextOut.Add(float64(n))
	}
}

func (m *Metrics) Ciphertext(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	if direction == DirectionIn {
		m.ciphertextIn.Add(float64(n))
	} else {
		m.ciphertextOut.Add(float64(n))
	}
}
