package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event is the canonical audit record for challenge and action token
// lifecycle changes. OwnerRef is always masked before it reaches an Event.
type Event struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	TenantID    string            `json:"tenant_id,omitempty"`
	ChallengeID string            `json:"challenge_id,omitempty"`
	OwnerRef    string            `json:"owner_ref,omitempty"`
	SubjectRef  string            `json:"subject_ref,omitempty"`
	Purpose     string            `json:"purpose,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// fields flattens e for structured loggers. Metadata keys gain a "meta_"
// prefix so they cannot shadow the fixed ones.
func (e Event) fields() logrus.Fields {
	f := logrus.Fields{
		"audit":   true,
		"event":   e.EventType,
		"success": e.Success,
	}
	optional := [...]struct{ key, value string }{
		{"tenant_id", e.TenantID},
		{"challenge_id", e.ChallengeID},
		{"owner_ref", e.OwnerRef},
		{"purpose", e.Purpose},
		{"channel", e.Channel},
		{"ip", e.IP},
		{"error", e.Error},
	}
	for _, kv := range optional {
		if kv.value != "" {
			f[kv.key] = kv.value
		}
	}
	for k, v := range e.Metadata {
		f["meta_"+k] = v
	}
	return f
}

type Sink interface {
	Emit(ctx context.Context, event Event)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// LogrusSink logs each event as one structured entry: info when the event
// succeeded, warn otherwise.
type LogrusSink struct {
	logger logrus.FieldLogger
}

func NewLogrusSink(logger logrus.FieldLogger) *LogrusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusSink{logger: logger}
}

func (s *LogrusSink) Emit(_ context.Context, event Event) {
	if s == nil {
		return
	}
	entry := s.logger.WithFields(event.fields())
	if !event.Success {
		entry.Warn("audit")
		return
	}
	entry.Info("audit")
}

// JSONWriterSink encodes events as JSON lines. Encoding or write failures
// drop the event.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	_ = s.enc.Encode(event)
	s.mu.Unlock()
}

// ChannelSink hands events to a consumer over a buffered channel. Emit waits
// for room until ctx is done.
type ChannelSink struct {
	ch chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Events() <-chan Event { return s.ch }

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case <-ctx.Done():
	case s.ch <- event:
	}
}

// MultiSink forwards each event to its sinks in order, skipping nil entries.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		sink.Emit(ctx, event)
	}
}
