package goVerify

import (
	"io"

	"github.com/MrEthical07/goVerify/internal/audit"
	"github.com/sirupsen/logrus"
)

// AuditEvent is one challenge or action token lifecycle record. OwnerRef is
// always masked and secrets never appear in events.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	LogrusSink     = audit.LogrusSink
	MultiSink      = audit.MultiSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per event to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewLogrusSink logs successful events at info level and failures at warn.
func NewLogrusSink(logger logrus.FieldLogger) *LogrusSink {
	return audit.NewLogrusSink(logger)
}
