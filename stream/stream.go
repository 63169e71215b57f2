// Package stream validates sequences of resources as they are read. NDJSON
// exports are never held in memory as a whole; a Bundle is syntax checked
// once and then validated entry by entry.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/gofhir/model/pkg/issue"
	"github.com/gofhir/model/worker"
)

// EntryResult is the outcome for one resource of the stream.
type EntryResult struct {
	// Index is the position of the resource in the stream, or -1 for an
	// error that concerns the stream itself.
	Index int

	// FullURL is the entry's fullUrl (Bundle input only)
	FullURL string

	ResourceType string
	ResourceID   string

	// Result contains the validation issues for this resource
	Result *issue.Result

	// Err is set if the resource could not be validated
	Err error
}

// Validator validates the resources of a stream one at a time.
type Validator struct {
	validate    worker.Func
	bufferSize  int
	workerCount int
}

// NewValidator creates a stream validator that checks each resource's JSON
// with fn.
func NewValidator(fn worker.Func) *Validator {
	return &Validator{
		validate:    fn,
		bufferSize:  100,
		workerCount: 4,
	}
}

// WithBufferSize sets the result channel buffer size.
func (v *Validator) WithBufferSize(size int) *Validator {
	if size > 0 {
		v.bufferSize = size
	}
	return v
}

// WithWorkerCount sets the number of workers used by the parallel variants.
func (v *Validator) WithWorkerCount(count int) *Validator {
	if count > 0 {
		v.workerCount = count
	}
	return v
}

// document is one resource pulled from the input.
type document struct {
	index   int
	fullURL string
	data    []byte
}

// readFunc pulls documents from r and hands them to emit until the input
// ends or emit returns false.
type readFunc func(ctx context.Context, r io.Reader, emit func(document) bool) error

// ValidateBundle validates the entry resources of a JSON Bundle read from r.
// Results are emitted in entry order. Callers must drain the channel.
func (v *Validator) ValidateBundle(ctx context.Context, r io.Reader) <-chan *EntryResult {
	return v.run(ctx, r, readBundle)
}

// ValidateBundleParallel is ValidateBundle with entries validated on a
// worker pool. Output order is still entry order.
func (v *Validator) ValidateBundleParallel(ctx context.Context, r io.Reader) <-chan *EntryResult {
	return v.runParallel(ctx, r, readBundle)
}

// ValidateNDJSON validates newline-delimited JSON resources read from r.
func (v *Validator) ValidateNDJSON(ctx context.Context, r io.Reader) <-chan *EntryResult {
	return v.run(ctx, r, readNDJSON)
}

// ValidateNDJSONParallel is ValidateNDJSON on a worker pool, in input order.
func (v *Validator) ValidateNDJSONParallel(ctx context.Context, r io.Reader) <-chan *EntryResult {
	return v.runParallel(ctx, r, readNDJSON)
}

func (v *Validator) run(ctx context.Context, r io.Reader, read readFunc) <-chan *EntryResult {
	results := make(chan *EntryResult, v.bufferSize)

	go func() {
		defer close(results)

		err := read(ctx, r, func(doc document) bool {
			if ctx.Err() != nil {
				return false
			}
			results <- v.process(ctx, doc)
			return true
		})
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			results <- &EntryResult{Index: -1, Err: err}
		}
	}()

	return results
}

func (v *Validator) runParallel(ctx context.Context, r io.Reader, read readFunc) <-chan *EntryResult {
	results := make(chan *EntryResult, v.bufferSize)

	go func() {
		defer close(results)

		pool := worker.NewPool(ctx, v.validate, v.workerCount)

		var (
			mu      sync.Mutex
			docs    = make(map[int]document)
			readErr error
		)
		go func() {
			defer pool.Close()
			err := read(ctx, r, func(doc document) bool {
				mu.Lock()
				docs[doc.index] = doc
				mu.Unlock()
				return pool.Submit(worker.Job{Index: doc.index, Data: doc.data})
			})
			if err == nil {
				err = ctx.Err()
			}
			mu.Lock()
			readErr = err
			mu.Unlock()
		}()

		pending := make(map[int]*EntryResult)
		next := 0
		for jr := range pool.Results() {
			mu.Lock()
			doc := docs[jr.Index]
			delete(docs, jr.Index)
			mu.Unlock()

			res := describe(doc)
			if doc.data == nil {
				res.Result = issue.NewResult()
			} else {
				res.Result, res.Err = jr.Result, jr.Err
			}
			pending[jr.Index] = res

			for {
				r, ok := pending[next]
				if !ok {
					break
				}
				results <- r
				delete(pending, next)
				next++
			}
		}

		// Only reachable with gaps when submission stopped early.
		for len(pending) > 0 {
			if r, ok := pending[next]; ok {
				results <- r
				delete(pending, next)
			}
			next++
		}

		mu.Lock()
		err := readErr
		mu.Unlock()
		if err != nil {
			results <- &EntryResult{Index: -1, Err: err}
		}
	}()

	return results
}

// process validates one document.
func (v *Validator) process(ctx context.Context, doc document) *EntryResult {
	res := describe(doc)
	if doc.data == nil {
		res.Result = issue.NewResult()
		return res
	}
	if v.validate == nil {
		res.Err = worker.ErrNoValidator
		return res
	}
	res.Result, res.Err = v.validate(ctx, doc.data)
	return res
}

// describe fills the identifying fields of a result from the raw resource.
func describe(doc document) *EntryResult {
	res := &EntryResult{Index: doc.index, FullURL: doc.fullURL}
	if doc.data == nil {
		return res
	}
	var head struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	if json.Unmarshal(doc.data, &head) == nil {
		res.ResourceType = head.ResourceType
		res.ResourceID = head.ID
	}
	return res
}

// readBundle walks the top-level members of a Bundle and emits each
// entry.resource. Other members are skipped without being kept.
func readBundle(ctx context.Context, r io.Reader, emit func(document) bool) error {
	// The token stream does not check separators, so the Bundle is checked
	// whole before any entry is emitted.
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read bundle: %w", err)
	}
	if !json.Valid(data) {
		return ErrMalformedBundle
	}
	dec := json.NewDecoder(bytes.NewReader(data))

	token, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read bundle: %w", err)
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object start, got %v", token)
	}

	for dec.More() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		token, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read field: %w", err)
		}
		name, _ := token.(string)

		switch name {
		case "entry":
			return readEntries(dec, emit)
		case "resourceType":
			var rt string
			if err := dec.Decode(&rt); err != nil {
				return fmt.Errorf("failed to read resourceType: %w", err)
			}
			if rt != "Bundle" {
				return fmt.Errorf("expected a Bundle, got %q", rt)
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return fmt.Errorf("failed to skip field %s: %w", name, err)
			}
		}
	}

	// No entry member: empty bundle
	return nil
}

func readEntries(dec *json.Decoder, emit func(document) bool) error {
	token, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read entry array: %w", err)
	}
	if delim, ok := token.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("expected array start, got %v", token)
	}

	for index := 0; dec.More(); index++ {
		var entry struct {
			FullURL  string          `json:"fullUrl"`
			Resource json.RawMessage `json:"resource"`
		}
		if err := dec.Decode(&entry); err != nil {
			return fmt.Errorf("failed to decode entry %d: %w", index, err)
		}
		doc := document{index: index, fullURL: entry.FullURL}
		if len(entry.Resource) > 0 && string(entry.Resource) != "null" {
			doc.data = entry.Resource
		}
		if !emit(doc) {
			return nil
		}
	}
	return nil
}

// readNDJSON emits one document per top-level JSON value.
func readNDJSON(ctx context.Context, r io.Reader, emit func(document) bool) error {
	dec := json.NewDecoder(r)
	for index := 0; ; index++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode line %d: %w", index+1, err)
		}
		if !emit(document{index: index, data: raw}) {
			return nil
		}
	}
}

// ErrMalformedBundle is reported when a Bundle is not well-formed JSON.
var ErrMalformedBundle = errors.New("malformed bundle: invalid JSON")

// Summary aggregates the results of a stream.
type Summary struct {
	// TotalEntries is the number of resources validated
	TotalEntries int

	// EntriesWithErrors counts resources with error-level issues
	EntriesWithErrors int

	// EntriesWithWarnings counts resources with warnings but no errors
	EntriesWithWarnings int

	TotalIssues int

	// ProcessingErrors are failures to read or validate, not issues
	ProcessingErrors []error

	// Issues holds the issues of each resource that had any, by index
	Issues map[int][]issue.Issue
}

// Aggregate drains results into a Summary.
func Aggregate(results <-chan *EntryResult) *Summary {
	agg := &Summary{Issues: make(map[int][]issue.Issue)}

	for result := range results {
		if result.Err != nil {
			agg.ProcessingErrors = append(agg.ProcessingErrors, result.Err)
			continue
		}
		if result.Index < 0 {
			continue
		}

		agg.TotalEntries++
		if result.Result == nil || len(result.Result.Issues) == 0 {
			continue
		}

		issues := result.Result.Issues
		agg.Issues[result.Index] = issues
		agg.TotalIssues += len(issues)

		switch {
		case result.Result.HasErrors():
			agg.EntriesWithErrors++
		case result.Result.WarningCount() > 0:
			agg.EntriesWithWarnings++
		}
	}

	return agg
}

// HasErrors returns true if any resource had errors or could not be processed.
func (s *Summary) HasErrors() bool {
	return s.EntriesWithErrors > 0 || len(s.ProcessingErrors) > 0
}

// String returns a one-line summary.
func (s *Summary) String() string {
	return fmt.Sprintf(
		"Validated %d resources: %d with errors, %d with warnings, %d total issues",
		s.TotalEntries,
		s.EntriesWithErrors,
		s.EntriesWithWarnings,
		s.TotalIssues,
	)
}
