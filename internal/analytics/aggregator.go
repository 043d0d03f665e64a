package analytics

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	latencyWindow = 10000
	topQueries    = 10
)

// AggregatedStats is what /api/v1/analytics reports and what the snapshot
// store persists.
type AggregatedStats struct {
	TotalSearches     int64            `json:"total_searches"`
	CacheHits         int64            `json:"cache_hits"`
	CacheMisses       int64            `json:"cache_misses"`
	ZeroResultCount   int64            `json:"zero_result_count"`
	BySource          map[string]int64 `json:"by_source"`
	BySection         map[string]int64 `json:"by_section"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	P50LatencyMs      int64            `json:"p50_latency_ms"`
	P95LatencyMs      int64            `json:"p95_latency_ms"`
	P99LatencyMs      int64            `json:"p99_latency_ms"`
	TopQueries        []QueryCount     `json:"top_queries"`
	ZeroResultQueries []QueryCount     `json:"zero_result_queries"`
	QueriesPerMinute  float64          `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// latencies is a fixed-size ring of the most recent samples.
type latencies struct {
	buf  []int64
	next int
	full bool
}

func (l *latencies) add(ms int64) {
	if l.buf == nil {
		l.buf = make([]int64, latencyWindow)
	}
	l.buf[l.next] = ms
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
}

func (l *latencies) sorted() []int64 {
	n := l.next
	if l.full {
		n = len(l.buf)
	}
	out := slices.Clone(l.buf[:n])
	slices.Sort(out)
	return out
}

// Aggregator folds search events into running statistics.
type Aggregator struct {
	mu        sync.Mutex
	started   time.Time
	total     int64
	hits      int64
	zero      int64
	latency   latencies
	bySource  map[string]int64
	bySection map[string]int64
	queries   map[string]int64
	misses    map[string]int64
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		started:   time.Now(),
		bySource:  map[string]int64{},
		bySection: map[string]int64{},
		queries:   map[string]int64{},
		misses:    map[string]int64{},
	}
}

func (a *Aggregator) Track(ev SearchEvent) {
	q := normalizeQuery(ev.Query)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.total++
	if ev.CacheHit {
		a.hits++
	}
	a.latency.add(ev.LatencyMs)
	a.bySource[ev.Source]++
	if len(ev.Sections) == 0 {
		a.bySection["all"]++
	}
	for _, s := range ev.Sections {
		a.bySection[s]++
	}
	a.queries[q]++
	if ev.Returned == 0 {
		a.zero++
		a.misses[q]++
	}
}

// Seed adds the counters of a saved snapshot. Latency samples are not
// part of a snapshot, so percentiles start empty.
func (a *Aggregator) Seed(s AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total += s.TotalSearches
	a.hits += s.CacheHits
	a.zero += s.ZeroResultCount
	addAll(a.bySource, s.BySource)
	addAll(a.bySection, s.BySection)
	for _, q := range s.TopQueries {
		a.queries[q.Query] += q.Count
	}
	for _, q := range s.ZeroResultQueries {
		a.misses[q.Query] += q.Count
	}
}

func addAll(dst, src map[string]int64) {
	for k, v := range src {
		dst[k] += v
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()
	s := AggregatedStats{
		TotalSearches:     a.total,
		CacheHits:         a.hits,
		CacheMisses:       a.total - a.hits,
		ZeroResultCount:   a.zero,
		BySource:          maps.Clone(a.bySource),
		BySection:         maps.Clone(a.bySection),
		TopQueries:        ranked(a.queries, topQueries),
		ZeroResultQueries: ranked(a.misses, topQueries),
	}
	lat := a.latency.sorted()
	started := a.started
	a.mu.Unlock()

	if len(lat) > 0 {
		var sum int64
		for _, v := range lat {
			sum += v
		}
		s.AvgLatencyMs = float64(sum) / float64(len(lat))
		s.P50LatencyMs = nearestRank(lat, 50)
		s.P95LatencyMs = nearestRank(lat, 95)
		s.P99LatencyMs = nearestRank(lat, 99)
	}
	if mins := time.Since(started).Minutes(); mins > 0 {
		s.QueriesPerMinute = float64(s.TotalSearches) / mins
	}
	return s
}

// nearestRank returns the pct-th percentile of a sorted, non-empty slice.
func nearestRank(sorted []int64, pct int) int64 {
	i := (pct*len(sorted)+99)/100 - 1
	return sorted[max(0, min(i, len(sorted)-1))]
}

// ranked lists the n largest counts, ties broken alphabetically.
func ranked(counts map[string]int64, n int) []QueryCount {
	out := make([]QueryCount, 0, len(counts))
	for q, c := range counts {
		out = append(out, QueryCount{Query: q, Count: c})
	}
	slices.SortFunc(out, func(x, y QueryCount) int {
		return cmp.Or(cmp.Compare(y.Count, x.Count), strings.Compare(x.Query, y.Query))
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// normalizeQuery folds case and whitespace so "Go  tips" and "go tips"
// count as one query.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
