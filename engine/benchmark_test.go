package engine

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/gofhir/model/stream"
)

// Sample resources for benchmarking
var (
	simpleContract = []byte(`{
		"resourceType": "Contract",
		"id": "example",
		"status": "executed",
		"issued": "2024-01-15T10:00:00Z"
	}`)

	complexContract = []byte(`{
		"resourceType": "Contract",
		"id": "example",
		"meta": {"versionId": "1", "lastUpdated": "2024-01-01T00:00:00Z"},
		"identifier": [
			{"system": "http://example.org/contracts", "value": "12345"},
			{"use": "official", "system": "http://example.org/ids", "value": "C-001"}
		],
		"status": "executed",
		"applies": {"start": "2024-01-01", "end": "2024-12-31"},
		"subject": [{"reference": "Patient/1"}],
		"topicReference": {"reference": "Group/1"},
		"term": [
			{
				"text": "payment",
				"offer": {
					"party": [{
						"reference": [{"reference": "Organization/1"}],
						"role": {"coding": [{"system": "http://example.org/roles", "code": "payer"}]}
					}],
					"answer": [{"valueDecimal": 12.50}, {"valueString": "yes"}]
				},
				"asset": [{
					"valuedItem": [{
						"quantity": {"value": 3, "unit": "box", "system": "http://unitsofmeasure.org", "code": "{box}"},
						"unitPrice": {"value": 19.99, "currency": "EUR"},
						"factor": 1.0
					}]
				}]
			}
		],
		"signer": [{
			"type": {"system": "http://example.org/signer", "code": "AMENDER"},
			"party": {"reference": "Practitioner/1"}
		}]
	}`)

	researchDefinition = []byte(`{
		"resourceType": "ResearchDefinition",
		"id": "example",
		"status": "active",
		"subjectCodeableConcept": {"text": "Patients"},
		"population": {"reference": "EvidenceVariable/1"}
	}`)
)

func BenchmarkValidate(b *testing.B) {
	eng := newEngine(b)
	ctx := context.Background()

	for _, bm := range []struct {
		name string
		doc  []byte
	}{
		{"simple_contract", simpleContract},
		{"complex_contract", complexContract},
		{"research_definition", researchDefinition},
	} {
		b.Run(bm.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				result, err := eng.ValidateJSON(ctx, bm.doc)
				if err != nil {
					b.Fatal(err)
				}
				if result.HasErrors() {
					b.Fatalf("unexpected errors: %+v", result.Issues)
				}
			}
		})
	}
}

func BenchmarkCodec(b *testing.B) {
	eng := newEngine(b)
	inst, err := eng.DecodeJSON("", complexContract)
	if err != nil {
		b.Fatal(err)
	}
	xmlDoc, err := eng.EncodeXML(inst)
	if err != nil {
		b.Fatal(err)
	}

	b.Run("decode_json", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = eng.DecodeJSON("Contract", complexContract)
		}
	})
	b.Run("decode_xml", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = eng.DecodeXML("Contract", xmlDoc)
		}
	})
	b.Run("encode_json", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = eng.EncodeJSON(inst)
		}
	})
	b.Run("encode_xml", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = eng.EncodeXML(inst)
		}
	})
}

// BenchmarkBatchValidation compares sequential vs parallel batch validation
func BenchmarkBatchValidation(b *testing.B) {
	ctx := context.Background()
	eng := newEngine(b)

	docs := make([][]byte, 100)
	for i := range docs {
		docs[i] = complexContract
	}

	b.Run("sequential", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			for _, d := range docs {
				_, _ = eng.ValidateJSON(ctx, d)
			}
		}
	})

	for _, workers := range []int{2, 4, 8} {
		b.Run(fmt.Sprintf("parallel_%d_workers", workers), func(b *testing.B) {
			eng.options.Workers = workers
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = eng.ValidateBatch(ctx, FormatJSON, docs)
			}
		})
	}
}

func BenchmarkBundleStream(b *testing.B) {
	ctx := context.Background()
	eng := newEngine(b)
	bundle := createBundleWithEntries(500)

	b.SetBytes(int64(len(bundle)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		summary := stream.Aggregate(eng.ValidateBundleStream(ctx, bytes.NewReader(bundle)))
		if summary.TotalEntries != 500 {
			b.Fatalf("validated %d entries", summary.TotalEntries)
		}
	}
}

// createBundleWithEntries builds a collection Bundle of n contracts.
func createBundleWithEntries(n int) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"resourceType":"Bundle","id":"bench","type":"collection","entry":[`)
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, `{"fullUrl":"urn:uuid:contract-%d","resource":{"resourceType":"Contract","id":"contract-%d","status":"executed"}}`, i, i)
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// BenchmarkThroughput measures validation throughput
func BenchmarkThroughput(b *testing.B) {
	ctx := context.Background()
	eng := newEngine(b)
	eng.options.Workers = runtime.NumCPU()

	docs := make([][]byte, 10000)
	for i := range docs {
		docs[i] = simpleContract
	}

	start := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = eng.ValidateBatch(ctx, FormatJSON, docs)
	}
	b.StopTimer()

	throughput := float64(b.N*len(docs)) / time.Since(start).Seconds()
	b.ReportMetric(throughput, "resources/sec")
}
