package pipeline

import (
	"time"

	"github.com/bankscout/bankscout/engine/domain"
	"github.com/bankscout/bankscout/engine/extract"
)

// State is where a run is in its lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateSessionOpen State = "session_open"
	StateExtracting  State = "extracting"
	StateNormalizing State = "normalizing"
	StateClosed      State = "closed"
)

// Status is the terminal outcome of a run.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusHardFailure    Status = "hard_failure"
)

// Failure is one item that did not normalize.
type Failure struct {
	Index    int            `json:"index"`
	Title    string         `json:"title"`
	Item     domain.RawItem `json:"item"`
	Kind     string         `json:"kind"`
	Reason   string         `json:"reason"`
	Attempts int            `json:"attempts"`
	Err      error          `json:"-"`
}

// Report summarizes one run. It is written only by the run that owns it.
type Report struct {
	RunID     string `json:"run_id"`
	Source    string `json:"source"`
	Bank      string `json:"bank"`
	URL       string `json:"url"`
	PageTitle string `json:"page_title,omitempty"`
	State     State  `json:"state"`
	Status    Status `json:"status,omitempty"`

	Discovered int `json:"discovered"`
	Normalized int `json:"normalized"`
	Failed     int `json:"failed"`
	Dropped    int `json:"dropped"`
	Cards      int `json:"cards"`

	// ExtractAttempts counts extraction tries, retries included.
	ExtractAttempts int                   `json:"extract_attempts"`
	CardFailures    []extract.CardFailure `json:"card_failures,omitempty"`
	Failures        []Failure             `json:"failures,omitempty"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Duration is how long the run took, or has taken so far.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary returns slog key/value pairs describing the run.
func (r *Report) Summary() []any {
	kv := []any{
		"run_id", r.RunID,
		"source", r.Source,
		"status", r.Status,
		"discovered", r.Discovered,
		"normalized", r.Normalized,
		"failed", r.Failed,
		"card_failures", len(r.CardFailures),
		"dropped", r.Dropped,
		"duration", r.Duration().Round(time.Millisecond),
	}
	if r.Err != nil {
		kv = append(kv, "err", r.Err)
	}
	return kv
}

// settle derives the terminal status. Card failures are absorbed by the
// extractor and do not count against the run.
func (r *Report) settle() {
	switch {
	case r.Err != nil, r.Discovered == 0:
		r.Status = StatusHardFailure
	case r.Failed == 0:
		r.Status = StatusSuccess
	case r.Normalized > 0:
		r.Status = StatusPartialFailure
	default:
		r.Status = StatusHardFailure
	}
	if r.Err != nil {
		r.Error = r.Err.Error()
	}
}
