// Package memoryexchange implements authorized peer-to-peer streaming of
// redacted memory vectors (§4.6): a verified peer requests a collection's
// top-k candidates, each fragment is redacted before it leaves the node,
// and the topic heatmap this builds decays hourly.
package memoryexchange

import "time"

// Candidate is one memory record eligible for exchange, as returned by the
// backing vector store before redaction.
type Candidate struct {
	ID         string
	Vector     []float32
	Content    string
	Type       string
	Timestamp  time.Time
	Similarity float64
	Topic      string
}

// Fragment is one streamed item of an ExchangeMemory response.
type Fragment struct {
	ID              string
	Vector          []float32
	RedactedContent string
	Type            string
	Timestamp       time.Time
	Similarity      float64
	IsComplete      bool
}

// topicFrequency tracks access recency for the decay sweep (§4.6).
type topicFrequency struct {
	count      float64
	lastAccess time.Time
}
