// Package telemetry records local query statistics: how often each search
// mode is used, latency, frequent terms and queries that found nothing.
// Nothing leaves the machine.
package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// Buckets lists the latency buckets in ascending order.
var Buckets = []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}

// Label returns the human-readable range of the bucket.
func (b LatencyBucket) Label() string {
	switch b {
	case BucketP10:
		return "<10ms"
	case BucketP50:
		return "10-50ms"
	case BucketP100:
		return "50-100ms"
	case BucketP500:
		return "100-500ms"
	default:
		return ">500ms"
	}
}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one completed search.
type QueryEvent struct {
	Query       string
	Mode        string
	ResultCount int
	Degraded    bool // a hybrid search fell back to one ranking
	Latency     time.Duration
	Timestamp   time.Time
}

// ExtractTerms lowercases the query and keeps words of three or more bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// Config configures the collector.
type Config struct {
	// TermsCapacity bounds the distinct terms held between flushes.
	TermsCapacity int
	// ZeroResultsCapacity bounds the zero-result queries held between flushes.
	ZeroResultsCapacity int
	// FlushInterval is how often pending counts are written. 0 flushes
	// only on Close and Snapshot.
	FlushInterval time.Duration
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		TermsCapacity:       1000,
		ZeroResultsCapacity: 100,
		FlushInterval:       time.Minute,
	}
}

type zeroResult struct {
	query string
	mode  string
	at    time.Time
}

// pending holds counts recorded since the last flush.
type pending struct {
	daily       map[string]*DayCounts
	modes       map[dayKey]int64
	latencies   map[dayKey]int64
	terms       *lru.Cache[string, int64]
	zeroResults []zeroResult
}

type dayKey struct {
	date string
	name string
}

// QueryMetrics aggregates query events in memory and adds them to the store
// on flush. Safe for concurrent use.
type QueryMetrics struct {
	mu      sync.Mutex
	cfg     Config
	store   *Store
	pending pending
	closed  bool

	stop chan struct{}
	done chan struct{}
}

// NewQueryMetrics creates a collector over store.
func NewQueryMetrics(store *Store, cfg Config) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TermsCapacity <= 0 {
		cfg.TermsCapacity = def.TermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}

	m := &QueryMetrics{cfg: cfg, store: store}
	m.pending = m.newPending()
	if cfg.FlushInterval > 0 {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) newPending() pending {
	terms, _ := lru.New[string, int64](m.cfg.TermsCapacity)
	return pending{
		daily:     map[string]*DayCounts{},
		modes:     map[dayKey]int64{},
		latencies: map[dayKey]int64{},
		terms:     terms,
	}
}

func (m *QueryMetrics) flushLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(context.Background()); err != nil {
				slog.Debug("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stop:
			return
		}
	}
}

// Record adds one event. It never blocks on the store.
func (m *QueryMetrics) Record(ev QueryEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	date := ev.Timestamp.Local().Format(time.DateOnly)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	p := &m.pending

	day := p.daily[date]
	if day == nil {
		day = &DayCounts{Date: date}
		p.daily[date] = day
	}
	day.Queries++
	if ev.ResultCount == 0 {
		day.ZeroResults++
		p.zeroResults = append(p.zeroResults, zeroResult{query: ev.Query, mode: ev.Mode, at: ev.Timestamp})
		if over := len(p.zeroResults) - m.cfg.ZeroResultsCapacity; over > 0 {
			p.zeroResults = p.zeroResults[over:]
		}
	}
	if ev.Degraded {
		day.Degraded++
	}

	p.modes[dayKey{date, ev.Mode}]++
	p.latencies[dayKey{date, string(LatencyToBucket(ev.Latency))}]++
	for _, term := range ExtractTerms(ev.Query) {
		count, _ := p.terms.Peek(term)
		p.terms.Add(term, count+1)
	}
}

// Flush writes pending counts to the store. Counts that fail to write are
// dropped.
func (m *QueryMetrics) Flush(ctx context.Context) error {
	m.mu.Lock()
	p := m.pending
	m.pending = m.newPending()
	m.mu.Unlock()

	if len(p.daily) == 0 {
		return nil
	}

	b := Batch{
		Modes:       make([]NamedCount, 0, len(p.modes)),
		Latencies:   make([]NamedCount, 0, len(p.latencies)),
		Terms:       make(map[string]int64, p.terms.Len()),
		ZeroResults: make([]ZeroResultQuery, 0, len(p.zeroResults)),
	}
	for _, d := range p.daily {
		b.Days = append(b.Days, *d)
	}
	for k, n := range p.modes {
		b.Modes = append(b.Modes, NamedCount{Date: k.date, Name: k.name, Count: n})
	}
	for k, n := range p.latencies {
		b.Latencies = append(b.Latencies, NamedCount{Date: k.date, Name: k.name, Count: n})
	}
	for _, term := range p.terms.Keys() {
		if n, ok := p.terms.Peek(term); ok {
			b.Terms[term] = n
		}
	}
	for _, z := range p.zeroResults {
		b.ZeroResults = append(b.ZeroResults, ZeroResultQuery{Query: z.query, Mode: z.mode, At: z.at})
	}
	return m.store.Save(ctx, b)
}

// Snapshot flushes and returns the statistics of the last days days,
// today included. days <= 0 selects 7.
func (m *QueryMetrics) Snapshot(ctx context.Context, days int) (*Snapshot, error) {
	if err := m.Flush(ctx); err != nil {
		return nil, err
	}
	return m.store.Load(ctx, days, time.Now())
}

// Close stops the flush loop and writes what is pending. It does not close
// the store.
func (m *QueryMetrics) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.stop != nil {
		close(m.stop)
		<-m.done
	}
	return m.Flush(ctx)
}
