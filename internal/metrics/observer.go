package metrics

import (
	"io"
	"sync"
	"time"
)

// Attachment outcomes.
const (
	OutcomeDescribed      = "described"
	OutcomeFetchFailed    = "fetch_failed"
	OutcomeProviderFailed = "provider_failed"
	OutcomeUploadFailed   = "upload_failed"
	OutcomeDryRun         = "dry_run"
)

// Cycle summarizes one scan cycle.
type Cycle struct {
	ID                  string
	PostsScanned        int
	PostsUpdated        int
	PostsFailed         int
	AttachmentsEligible int
	AttachmentsFixed    int
	AttachmentsFailed   int
	Duration            time.Duration
	Err                 error
}

// Observer receives scan events. Implementations must be safe to call from
// the scan goroutine while a metrics endpoint reads them.
type Observer interface {
	// Attachment records the outcome of one eligible attachment.
	Attachment(outcome string)
	// ProviderCall records one description attempt; kind is "" on success.
	ProviderCall(provider string, d time.Duration, kind string)
	// StatusUpdate records one status edit attempt.
	StatusUpdate(ok bool)
	// CycleFinished records a completed (or aborted) cycle.
	CycleFinished(c Cycle)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Attachment(string)                          {}
func (Nop) ProviderCall(string, time.Duration, string) {}
func (Nop) StatusUpdate(bool)                          {}
func (Nop) CycleFinished(Cycle)                        {}

// Multi fans events out to several observers.
type Multi []Observer

func (m Multi) Attachment(outcome string) {
	for _, o := range m {
		o.Attachment(outcome)
	}
}

func (m Multi) ProviderCall(provider string, d time.Duration, kind string) {
	for _, o := range m {
		o.ProviderCall(provider, d, kind)
	}
}

func (m Multi) StatusUpdate(ok bool) {
	for _, o := range m {
		o.StatusUpdate(ok)
	}
}

func (m Multi) CycleFinished(c Cycle) {
	for _, o := range m {
		o.CycleFinished(c)
	}
}

// EMF emits one EMF line per cycle. Provider latency is averaged over the cycle.
type EMF struct {
	mu        sync.Mutex
	out       io.Writer
	provider  string
	calls     int
	callTotal time.Duration
	failures  int
}

// NewEMF creates an EMF observer writing to w (os.Stdout in Lambda).
func NewEMF(w io.Writer) *EMF {
	return &EMF{out: w}
}

func (e *EMF) Attachment(string) {}

func (e *EMF) ProviderCall(provider string, d time.Duration, kind string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.provider = provider
	e.calls++
	e.callTotal += d
	if kind != "" {
		e.failures++
	}
}

func (e *EMF) StatusUpdate(bool) {}

func (e *EMF) CycleFinished(c Cycle) {
	e.mu.Lock()
	provider, calls, total, failures := e.provider, e.calls, e.callTotal, e.failures
	e.provider, e.calls, e.callTotal, e.failures = "", 0, 0, 0
	e.mu.Unlock()

	result := "success"
	if c.Err != nil {
		result = "error"
	}

	rec := NewWithWriter(Namespace, e.out).
		Dimension("Result", result).
		Count("PostsScanned", c.PostsScanned).
		Count("PostsUpdated", c.PostsUpdated).
		Count("PostsFailed", c.PostsFailed).
		Count("AttachmentsEligible", c.AttachmentsEligible).
		Count("AttachmentsFixed", c.AttachmentsFixed).
		Count("AttachmentsFailed", c.AttachmentsFailed).
		Count("ProviderFailures", failures).
		Duration("CycleMs", c.Duration).
		Property("cycleId", c.ID)
	if calls > 0 {
		rec.Metric("ProviderLatencyMs", float64(total.Milliseconds())/float64(calls), UnitMilliseconds).
			Property("provider", provider)
	}
	if c.Err != nil {
		rec.Property("error", c.Err.Error())
	}
	rec.Flush()
}
