package worker

import (
	"time"

	"github.com/gofhir/model/pkg/issue"
)

// Job is one document to validate.
type Job struct {
	// Index is the position of the document in its input.
	Index int

	// ID is an optional caller-chosen label, such as a file name.
	ID string

	// Data is the encoded document.
	Data []byte
}

// JobResult is the outcome of one Job.
type JobResult struct {
	Index int
	ID    string

	// Result holds the validation issues. It is nil when Err is set.
	Result *issue.Result

	// Err is set when the document could not be validated at all.
	Err error

	Duration time.Duration
}

// Failed reports whether the job produced an error or error-level issues.
func (r *JobResult) Failed() bool {
	return r.Err != nil || (r.Result != nil && r.Result.HasErrors())
}

// BatchResult aggregates the results of a batch.
type BatchResult struct {
	// Results are in input order. An entry is nil when the batch was
	// cancelled before the job ran.
	Results []*JobResult

	TotalJobs     int
	CompletedJobs int

	// FailedJobs counts jobs that returned an error.
	FailedJobs int

	TotalDuration time.Duration
}

// HasErrors returns true if any job failed or reported error-level issues.
func (br *BatchResult) HasErrors() bool {
	for _, r := range br.Results {
		if r != nil && r.Failed() {
			return true
		}
	}
	return false
}

// ErrorCount returns the number of error-level issues across all results.
func (br *BatchResult) ErrorCount() int {
	count := 0
	for _, r := range br.Results {
		if r != nil && r.Result != nil {
			count += r.Result.ErrorCount()
		}
	}
	return count
}
