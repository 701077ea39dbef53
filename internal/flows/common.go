package flows

import (
	"context"
	"errors"
	"time"
)

// Channel and purpose codes as persisted in store records. The root package
// owns the string forms.
const (
	ChannelOTP  uint8 = 1
	ChannelLink uint8 = 2
)

// AuditFields identifies the challenge or token an audit event is about.
// OwnerRef must already be masked.
type AuditFields struct {
	ChallengeID string
	OwnerRef    string
	SubjectRef  string
	Purpose     uint8
	Channel     uint8
}

type EmitAuditFunc func(ctx context.Context, eventType string, success bool, fields AuditFields, err error, metadata func() map[string]string)

func noopAudit(context.Context, string, bool, AuditFields, error, func() map[string]string) {}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func secondsCeil(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
