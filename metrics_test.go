package fhirmodel

import (
	"sync"
	"testing"
	"time"

	"github.com/gofhir/model/pkg/issue"
)

func resultWith(severities ...issue.Severity) *issue.Result {
	r := issue.NewResult()
	for _, s := range severities {
		r.AddIssue(issue.Issue{Severity: s, Code: issue.CodeInvalid})
	}
	return r
}

func TestMetrics_Validation(t *testing.T) {
	m := NewMetrics()

	if rate := m.ValidationRate(); rate != 0 {
		t.Errorf("ValidationRate() = %f; want 0", rate)
	}

	m.RecordValidation(time.Millisecond, resultWith())
	m.RecordValidation(time.Millisecond, resultWith(issue.SeverityWarning))
	m.RecordValidation(time.Millisecond, resultWith(issue.SeverityError, issue.SeverityInformation))

	if m.ValidationsTotal() != 3 {
		t.Errorf("ValidationsTotal() = %d; want 3", m.ValidationsTotal())
	}
	if m.ValidationsValid() != 2 {
		t.Errorf("ValidationsValid() = %d; want 2", m.ValidationsValid())
	}
	rate := m.ValidationRate()
	expected := 2.0 / 3.0
	if rate < expected-0.01 || rate > expected+0.01 {
		t.Errorf("ValidationRate() = %f; want ~%f", rate, expected)
	}
	if m.ErrorsTotal() != 1 || m.WarningsTotal() != 1 || m.InfosTotal() != 1 {
		t.Errorf("issues = %d/%d/%d; want 1/1/1", m.ErrorsTotal(), m.WarningsTotal(), m.InfosTotal())
	}

	stats, ok := m.OperationStats(OpValidate)
	if !ok || stats.Calls != 3 {
		t.Errorf("OperationStats(validate) = %+v, %v", stats, ok)
	}
}

func TestMetrics_OperationTiming(t *testing.T) {
	m := NewMetrics()

	if _, ok := m.OperationStats(OpDecodeJSON); ok {
		t.Error("unrecorded operation should not report stats")
	}

	m.RecordOperation(OpDecodeJSON, 100*time.Millisecond, false)
	m.RecordOperation(OpDecodeJSON, 300*time.Millisecond, true)
	m.RecordOperation(OpDecodeJSON, 200*time.Millisecond, false)

	stats, ok := m.OperationStats(OpDecodeJSON)
	if !ok {
		t.Fatal("OperationStats() not found")
	}
	if stats.Calls != 3 || stats.Failures != 1 {
		t.Errorf("Calls = %d, Failures = %d; want 3, 1", stats.Calls, stats.Failures)
	}
	if stats.Min != 100*time.Millisecond || stats.Max != 300*time.Millisecond {
		t.Errorf("Min = %v, Max = %v", stats.Min, stats.Max)
	}
	if stats.Avg != 200*time.Millisecond {
		t.Errorf("Avg = %v; want 200ms", stats.Avg)
	}
}

func TestMetrics_CacheStats(t *testing.T) {
	m := NewMetrics()
	if m.CacheHitRate() != 0 {
		t.Error("CacheHitRate() should be 0 with no lookups")
	}
	m.SetCacheStats(3, 1)
	if rate := m.CacheHitRate(); rate != 0.75 {
		t.Errorf("CacheHitRate() = %f; want 0.75", rate)
	}
}

func TestMetrics_SnapshotAndExport(t *testing.T) {
	m := NewMetrics()
	m.RecordValidation(time.Millisecond, resultWith(issue.SeverityError))
	m.RecordOperation(OpEncodeXML, time.Millisecond, false)
	m.SetCacheStats(1, 1)

	s := m.Snapshot()
	if s.ValidationsTotal != 1 || s.ErrorsTotal != 1 || s.CacheHitRate != 0.5 {
		t.Errorf("Snapshot() = %+v", s)
	}
	if len(s.Operations) != 2 {
		t.Errorf("Operations = %d; want 2", len(s.Operations))
	}
	if s.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}

	exp := m.Export()
	if exp["validations_total"] != uint64(1) {
		t.Errorf("validations_total = %v", exp["validations_total"])
	}
	if exp["encode_xml_calls"] != uint64(1) {
		t.Errorf("encode_xml_calls = %v", exp["encode_xml_calls"])
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()
	m.RecordValidation(time.Millisecond, resultWith(issue.SeverityWarning))
	m.SetCacheStats(5, 5)
	m.Reset()

	if m.ValidationsTotal() != 0 || m.WarningsTotal() != 0 || m.CacheHitRate() != 0 {
		t.Error("Reset() should clear counters")
	}
	if len(m.AllOperationStats()) != 0 {
		t.Error("Reset() should clear operations")
	}
}

func TestMetrics_Concurrent(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.RecordOperation(OpDecodeXML, time.Duration(i+1)*time.Microsecond, false)
			m.RecordValidation(time.Microsecond, resultWith())
		}(i)
	}
	wg.Wait()

	stats, _ := m.OperationStats(OpDecodeXML)
	if stats.Calls != 50 {
		t.Errorf("Calls = %d; want 50", stats.Calls)
	}
	if stats.Min != time.Microsecond || stats.Max != 50*time.Microsecond {
		t.Errorf("Min = %v, Max = %v", stats.Min, stats.Max)
	}
	if m.ValidationsValid() != 50 {
		t.Errorf("ValidationsValid() = %d; want 50", m.ValidationsValid())
	}
}
