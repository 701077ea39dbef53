package delivery

import (
	"context"
	"sync"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/sirupsen/logrus"
)

// Sandbox is a development gateway. It logs every message, secret included,
// and keeps the most recent ones in memory.
type Sandbox struct {
	logger logrus.FieldLogger
	keep   int

	mu     sync.Mutex
	outbox []goVerify.Message
}

// NewSandbox returns a sandbox that keeps the last keep messages.
func NewSandbox(logger logrus.FieldLogger, keep int) *Sandbox {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if keep <= 0 {
		keep = 32
	}
	return &Sandbox{logger: logger.WithField("component", "delivery.sandbox"), keep: keep}
}

func (s *Sandbox) Deliver(_ context.Context, msg goVerify.Message) error {
	s.mu.Lock()
	s.outbox = append(s.outbox, msg)
	if len(s.outbox) > s.keep {
		s.outbox = s.outbox[len(s.outbox)-s.keep:]
	}
	s.mu.Unlock()

	fields := logrus.Fields{
		"challenge_id": msg.ChallengeID,
		"purpose":      msg.Purpose,
		"channel":      msg.Channel,
		"destination":  msg.Destination,
		"secret":       msg.Secret,
	}
	if msg.Link != "" {
		fields["link"] = msg.Link
	}
	s.logger.WithFields(fields).Warn("sandbox delivery, message not sent")
	return nil
}

func (s *Sandbox) Sandbox() bool { return true }

// Last returns the newest message sent to destination.
func (s *Sandbox) Last(destination string) (goVerify.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.outbox) - 1; i >= 0; i-- {
		if s.outbox[i].Destination == destination {
			return s.outbox[i], true
		}
	}
	return goVerify.Message{}, false
}

func (s *Sandbox) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}
