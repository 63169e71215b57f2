package fhirmodel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofhir/model/pkg/issue"
)

// Operation names recorded by the engine.
const (
	OpDecodeJSON = "decode_json"
	OpDecodeXML  = "decode_xml"
	OpEncodeJSON = "encode_json"
	OpEncodeXML  = "encode_xml"
	OpValidate   = "validate"
)

// Metrics tracks engine activity using lock-free atomic operations.
// All methods are safe for concurrent use.
type Metrics struct {
	// Validation counts
	validationsTotal atomic.Uint64
	validationsValid atomic.Uint64

	// Issue counts by severity
	errorsTotal   atomic.Uint64
	warningsTotal atomic.Uint64
	infosTotal    atomic.Uint64

	// Constraint cache, copied from the evaluator
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	// Per-operation timing
	ops sync.Map // map[string]*opMetrics
}

// opMetrics tracks one operation (decode_json, validate, ...).
type opMetrics struct {
	calls    atomic.Uint64
	failures atomic.Uint64
	total    atomic.Uint64 // nanoseconds
	minNs    atomic.Uint64
	maxNs    atomic.Uint64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// --- Recording Methods ---

// RecordOperation records one call of op. failed marks calls that returned
// an error.
func (m *Metrics) RecordOperation(op string, duration time.Duration, failed bool) {
	om := m.operation(op)
	om.calls.Add(1)
	if failed {
		om.failures.Add(1)
	}

	ns := uint64(duration.Nanoseconds()) //nolint:gosec // Safe: nanoseconds are always positive for valid durations
	om.total.Add(ns)

	for {
		old := om.minNs.Load()
		if ns >= old {
			break
		}
		if om.minNs.CompareAndSwap(old, ns) {
			break
		}
	}
	for {
		old := om.maxNs.Load()
		if ns <= old {
			break
		}
		if om.maxNs.CompareAndSwap(old, ns) {
			break
		}
	}
}

func (m *Metrics) operation(name string) *opMetrics {
	if v, ok := m.ops.Load(name); ok {
		return v.(*opMetrics)
	}
	om := &opMetrics{}
	// Initialize min to max uint64 so first value becomes the minimum
	om.minNs.Store(^uint64(0))
	actual, _ := m.ops.LoadOrStore(name, om)
	return actual.(*opMetrics)
}

// RecordValidation records a validation result and its issues.
func (m *Metrics) RecordValidation(duration time.Duration, result *issue.Result) {
	valid := result == nil || result.Valid()
	m.validationsTotal.Add(1)
	if valid {
		m.validationsValid.Add(1)
	}
	if result != nil {
		for _, i := range result.Issues {
			m.RecordIssue(i.Severity)
		}
	}
	m.RecordOperation(OpValidate, duration, false)
}

// RecordIssue records an issue based on severity.
func (m *Metrics) RecordIssue(severity issue.Severity) {
	switch severity {
	case issue.SeverityError, issue.SeverityFatal:
		m.errorsTotal.Add(1)
	case issue.SeverityWarning:
		m.warningsTotal.Add(1)
	case issue.SeverityInformation:
		m.infosTotal.Add(1)
	}
}

// SetCacheStats stores the current constraint cache counters.
func (m *Metrics) SetCacheStats(hits, misses uint64) {
	m.cacheHits.Store(hits)
	m.cacheMisses.Store(misses)
}

// --- Query Methods ---

// ValidationsTotal returns the total number of validations performed.
func (m *Metrics) ValidationsTotal() uint64 {
	return m.validationsTotal.Load()
}

// ValidationsValid returns the number of validations without errors.
func (m *Metrics) ValidationsValid() uint64 {
	return m.validationsValid.Load()
}

// ValidationRate returns the share of valid validations (0.0 to 1.0).
func (m *Metrics) ValidationRate() float64 {
	total := m.validationsTotal.Load()
	if total == 0 {
		return 0
	}
	return float64(m.validationsValid.Load()) / float64(total)
}

// ErrorsTotal returns the total error issues found.
func (m *Metrics) ErrorsTotal() uint64 {
	return m.errorsTotal.Load()
}

// WarningsTotal returns the total warning issues found.
func (m *Metrics) WarningsTotal() uint64 {
	return m.warningsTotal.Load()
}

// InfosTotal returns the total informational issues found.
func (m *Metrics) InfosTotal() uint64 {
	return m.infosTotal.Load()
}

// CacheHitRate returns the constraint cache hit rate (0.0 to 1.0).
func (m *Metrics) CacheHitRate() float64 {
	hits := m.cacheHits.Load()
	total := hits + m.cacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// OperationStats holds statistics for one operation.
type OperationStats struct {
	Name     string        `json:"name"`
	Calls    uint64        `json:"calls"`
	Failures uint64        `json:"failures"`
	Total    time.Duration `json:"total_ns"`
	Avg      time.Duration `json:"avg_ns"`
	Min      time.Duration `json:"min_ns"`
	Max      time.Duration `json:"max_ns"`
}

// OperationStats returns statistics for op.
func (m *Metrics) OperationStats(op string) (OperationStats, bool) {
	v, ok := m.ops.Load(op)
	if !ok {
		return OperationStats{Name: op}, false
	}
	return v.(*opMetrics).stats(op), true
}

func (om *opMetrics) stats(name string) OperationStats {
	calls := om.calls.Load()
	total := om.total.Load()
	s := OperationStats{
		Name:     name,
		Calls:    calls,
		Failures: om.failures.Load(),
		Total:    time.Duration(total),           //nolint:gosec // Safe: nanoseconds within int64 range
		Max:      time.Duration(om.maxNs.Load()), //nolint:gosec // Safe: nanoseconds within int64 range
	}
	if calls > 0 {
		s.Avg = time.Duration(total / calls) //nolint:gosec // Safe: nanoseconds within int64 range
	}
	if minNs := om.minNs.Load(); minNs != ^uint64(0) {
		s.Min = time.Duration(minNs) //nolint:gosec // Safe: nanoseconds within int64 range
	}
	return s
}

// AllOperationStats returns statistics for every recorded operation.
func (m *Metrics) AllOperationStats() []OperationStats {
	var stats []OperationStats
	m.ops.Range(func(key, value any) bool {
		stats = append(stats, value.(*opMetrics).stats(key.(string)))
		return true
	})
	return stats
}

// --- Export Methods ---

// Snapshot represents a point-in-time snapshot of all metrics.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	ValidationsTotal uint64  `json:"validations_total"`
	ValidationsValid uint64  `json:"validations_valid"`
	ValidationRate   float64 `json:"validation_rate"`

	ErrorsTotal   uint64 `json:"errors_total"`
	WarningsTotal uint64 `json:"warnings_total"`
	InfosTotal    uint64 `json:"infos_total"`

	CacheHits    uint64  `json:"cache_hits"`
	CacheMisses  uint64  `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	Operations []OperationStats `json:"operations,omitempty"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:        time.Now(),
		ValidationsTotal: m.validationsTotal.Load(),
		ValidationsValid: m.validationsValid.Load(),
		ValidationRate:   m.ValidationRate(),
		ErrorsTotal:      m.errorsTotal.Load(),
		WarningsTotal:    m.warningsTotal.Load(),
		InfosTotal:       m.infosTotal.Load(),
		CacheHits:        m.cacheHits.Load(),
		CacheMisses:      m.cacheMisses.Load(),
		CacheHitRate:     m.CacheHitRate(),
		Operations:       m.AllOperationStats(),
	}
}

// Export returns metrics as a flat map suitable for external systems.
func (m *Metrics) Export() map[string]any {
	s := m.Snapshot()
	out := map[string]any{
		"validations_total": s.ValidationsTotal,
		"validations_valid": s.ValidationsValid,
		"validation_rate":   s.ValidationRate,
		"errors_total":      s.ErrorsTotal,
		"warnings_total":    s.WarningsTotal,
		"infos_total":       s.InfosTotal,
		"cache_hits":        s.CacheHits,
		"cache_misses":      s.CacheMisses,
		"cache_hit_rate":    s.CacheHitRate,
	}
	for _, op := range s.Operations {
		out[op.Name+"_calls"] = op.Calls
		out[op.Name+"_failures"] = op.Failures
		out[op.Name+"_avg_ns"] = int64(op.Avg)
	}
	return out
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.validationsTotal.Store(0)
	m.validationsValid.Store(0)
	m.errorsTotal.Store(0)
	m.warningsTotal.Store(0)
	m.infosTotal.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.ops.Range(func(key, _ any) bool {
		m.ops.Delete(key)
		return true
	})
}
