// Package metrics exposes the engine's operational counters in Prometheus
// format.
package metrics

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

func DealCreated() {
	metrics.GetOrCreateCounter(`telads_deals_created_total`).Inc()
}

func DealTransition(to string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`telads_deal_transitions_total{to=%q}`, to)).Inc()
}

func VerifierAttempt() {
	metrics.GetOrCreateCounter(`telads_verifier_attempts_total`).Inc()
}

func VerifierExhausted() {
	metrics.GetOrCreateCounter(`telads_verifier_exhausted_total`).Inc()
}

func PaymentSettled() {
	metrics.GetOrCreateCounter(`telads_payments_settled_total`).Inc()
}

func ManagerDemoted() {
	metrics.GetOrCreateCounter(`telads_managers_demoted_total`).Inc()
}

// WritePrometheus dumps all counters; wired to GET /metrics.
func WritePrometheus(w io.Writer) {
	metrics.WritePrometheus(w, true)
}
