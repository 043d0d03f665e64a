package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
)

// SearchEvent describes one answered search. Source is where the results
// came from: worker, cache or scan.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	Sections  []string  `json:"sections,omitempty"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	Source    string    `json:"source"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// NewSearchEvent fills in the derived fields of a search event.
func NewSearchEvent(query string, terms, sections []string, returned int, latency time.Duration, source, requestID string) SearchEvent {
	typ := EventSearch
	if returned == 0 {
		typ = EventZeroResult
	}
	return SearchEvent{
		Type:      typ,
		Query:     query,
		Terms:     terms,
		Sections:  sections,
		Returned:  returned,
		LatencyMs: latency.Milliseconds(),
		Source:    source,
		CacheHit:  source == "cache",
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}
