package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bankscout/bankscout/engine/domain"
	"github.com/bankscout/bankscout/pkg/natsutil"
)

// Event kinds.
const (
	EventRunStarted     = "run.started"
	EventRunState       = "run.state"
	EventCardFailed     = "card.failed"
	EventItemNormalized = "item.normalized"
	EventItemFailed     = "item.failed"
	EventRunFinished    = "run.finished"
)

// Event is one structured pipeline event. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind   string    `json:"kind"`
	RunID  string    `json:"run_id"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`

	State  State          `json:"state,omitempty"`
	Index  *int           `json:"index,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Record *domain.Record `json:"record,omitempty"`
	Report *Report        `json:"report,omitempty"`
}

// Sink receives events. Emit errors are logged by the controller and never
// fail a run.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// DiscardSink drops every event.
type DiscardSink struct{}

func (DiscardSink) Emit(context.Context, Event) error { return nil }

// LogSink writes events to a structured logger.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, ev Event) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("run_id", ev.RunID, "source", ev.Source)
	switch ev.Kind {
	case EventRunFinished:
		if ev.Report != nil {
			log.InfoContext(ctx, "run finished", ev.Report.Summary()...)
		}
	case EventCardFailed:
		log.WarnContext(ctx, "card failed", "card_index", deref(ev.Index), "reason", ev.Reason)
	case EventItemFailed:
		log.WarnContext(ctx, "item failed", "item_index", deref(ev.Index), "reason", ev.Reason)
	case EventRunState:
		log.DebugContext(ctx, "run state", "state", ev.State)
	default:
		log.DebugContext(ctx, ev.Kind)
	}
	return nil
}

func deref(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

// NATSSink publishes each event as JSON on <Subject>.<kind>.
type NATSSink struct {
	Conn    *nats.Conn
	Subject string
}

func (s NATSSink) Emit(ctx context.Context, ev Event) error {
	return natsutil.Publish(ctx, s.Conn, s.Subject+"."+ev.Kind, ev)
}

// MultiSink fans out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
