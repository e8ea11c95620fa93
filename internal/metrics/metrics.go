package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	channelMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_channel_messages_total",
		Help: "Control channel frames received, partitioned by decoded kind",
	}, []string{"kind"})

	uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_uploads_total",
		Help: "Upload requests issued, partitioned by upload type",
	}, []string{"type"})

	uploadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_upload_bytes_total",
		Help: "Body bytes issued to the upload endpoint, partitioned by upload type",
	}, []string{"type"})

	uploadsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_uploads_dropped_total",
		Help: "Uploads dropped because no session identity was set",
	}, []string{"type"})

	phaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_phase_transitions_total",
		Help: "Session phase entries, partitioned by phase",
	}, []string{"phase"})

	capabilityFacts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_capability_facts_total",
		Help: "Capability fact outcomes, partitioned by fact and result",
	}, []string{"fact", "result"})
)

// ChannelMessage counts a received control channel frame.
func ChannelMessage(kind string) {
	channelMessages.WithLabelValues(kind).Inc()
}

// Upload counts an issued upload and its body size.
func Upload(kind string, size int) {
	uploads.WithLabelValues(kind).Inc()
	uploadBytes.WithLabelValues(kind).Add(float64(size))
}

// UploadDropped counts an upload dropped for lack of a session identity.
func UploadDropped(kind string) {
	uploadsDropped.WithLabelValues(kind).Inc()
}

// PhaseEntered counts a phase entry.
func PhaseEntered(phase string) {
	phaseTransitions.WithLabelValues(phase).Inc()
}

// CapabilityFact counts a capability fact outcome.
func CapabilityFact(fact string, ok bool) {
	result := "fail"
	if ok {
		result = "pass"
	}
	capabilityFacts.WithLabelValues(fact, result).Inc()
}

// Serve exposes /metrics on addr. It blocks until the listener fails.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Printf("[metrics] serving on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[metrics] server stopped: %v", err)
	}
}
