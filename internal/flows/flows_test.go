package flows

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/MrEthical07/goVerify/internal/stores"
)

var (
	errNotReady    = errors.New("not ready")
	errInvalid     = errors.New("invalid input")
	errNotFound    = errors.New("not found")
	errExpired     = errors.New("expired")
	errFinalized   = errors.New("finalized")
	errStale       = errors.New("stale")
	errUnavailable = errors.New("unavailable")
	errDelivery    = errors.New("delivery failed")
	errLimited     = errors.New("limited")
	errBadCode     = errors.New("bad code")
	errTokExpired  = errors.New("token expired")
	errConsumed    = errors.New("consumed")
	errMismatch    = errors.New("purpose mismatch")
	errAction      = errors.New("action failed")
	errDisabled    = errors.New("disabled")
	errChannel     = errors.New("channel")
	errNoSubject   = errors.New("no subject")
)

type memChallenges struct {
	records map[string]*stores.ChallengeRecord
	index   map[string]string
	now     time.Time
}

func newMemChallenges(now time.Time) *memChallenges {
	return &memChallenges{
		records: map[string]*stores.ChallengeRecord{},
		index:   map[string]string{},
		now:     now,
	}
}

func (m *memChallenges) get(_ context.Context, _ string, id string) (*stores.ChallengeRecord, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, stores.ErrChallengeNotFound
	}
	cp := *r
	cp.Status = cp.EffectiveStatus(m.now)
	return &cp, nil
}

func indexKey(owner string, purpose uint8) string {
	return owner + "|" + strconv.Itoa(int(purpose))
}

func (m *memChallenges) latest(ctx context.Context, tenantID, owner string, purpose uint8) (*stores.ChallengeRecord, error) {
	id, ok := m.index[indexKey(owner, purpose)]
	if !ok {
		return nil, stores.ErrChallengeNotFound
	}
	return m.get(ctx, tenantID, id)
}

func (m *memChallenges) put(_ context.Context, _ string, r *stores.ChallengeRecord) error {
	cp := *r
	m.records[r.ID] = &cp
	m.index[indexKey(r.OwnerRef, r.Purpose)] = r.ID
	return nil
}

func (m *memChallenges) cas(_ context.Context, _ string, id string, expected stores.ChallengeStatus, mutate stores.ChallengeMutation) (*stores.ChallengeRecord, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, stores.ErrChallengeNotFound
	}
	cur := *r
	cur.Status = cur.EffectiveStatus(m.now)
	if r.Status.Terminal() || cur.Status != expected {
		return &cur, stores.ErrChallengeStale
	}
	next := cur
	if mutate != nil {
		if err := mutate(&next); err != nil {
			return &cur, err
		}
	}
	m.records[id] = &next
	out := next
	return &out, nil
}

func testIssueDeps(m *memChallenges, delivered *[]Delivery) IssueDeps {
	return IssueDeps{
		Policy: func(purpose uint8) (IssuePolicy, bool) {
			return IssuePolicy{
				Enabled:         true,
				Channels:        []uint8{ChannelOTP},
				CodeTTL:         5 * time.Minute,
				Cooldown:        30 * time.Second,
				MaxAttempts:     5,
				OTPDigits:       6,
				EnumerationSafe: purpose == 2,
			}, purpose == 1 || purpose == 2
		},
		Now:            func() time.Time { return m.now },
		NormalizeOwner: func(_ uint8, owner string) (string, error) { return owner, nil },
		NewChallengeID: func() string { return "c-" + strconv.Itoa(len(m.records)) },
		GenerateSecret: func(uint8, int) (string, error) { return "123456", nil },
		HashSecret: func(id, secret string) [32]byte {
			var h [32]byte
			copy(h[:], id+"|"+secret)
			return h
		},
		Latest: m.latest,
		Supersede: func(ctx context.Context, tenantID, id string) error {
			_, err := m.cas(ctx, tenantID, id, stores.ChallengePending, func(r *stores.ChallengeRecord) error {
				r.Status = stores.ChallengeSuperseded
				return nil
			})
			return err
		},
		Put: m.put,
		Rollback: func(ctx context.Context, tenantID string, r *stores.ChallengeRecord) error {
			_, _ = m.cas(ctx, tenantID, r.ID, stores.ChallengePending, func(r *stores.ChallengeRecord) error {
				r.Status = stores.ChallengeSuperseded
				return nil
			})
			delete(m.index, indexKey(r.OwnerRef, r.Purpose))
			return nil
		},
		Deliver: func(_ context.Context, d Delivery) error {
			*delivered = append(*delivered, d)
			return nil
		},
		ResolveSubject: func(_ context.Context, purpose uint8, owner string) (IssueSubject, error) {
			if owner == "ghost" {
				return IssueSubject{}, errNoSubject
			}
			return IssueSubject{Ref: "subj-" + owner, Destination: owner}, nil
		},
		IsSubjectNotFound: func(err error) bool { return errors.Is(err, errNoSubject) },
		IsNotFound:        func(err error) bool { return errors.Is(err, stores.ErrChallengeNotFound) },
		IsStale:           func(err error) bool { return errors.Is(err, stores.ErrChallengeStale) },
		RateLimited:       func(time.Duration, string, string) error { return errLimited },
		Errors: IssueErrors{
			EngineNotReady:    errNotReady,
			InvalidInput:      errInvalid,
			PurposeDisabled:   errDisabled,
			ChannelNotAllowed: errChannel,
			SubjectNotFound:   errNoSubject,
			DeliveryFailed:    errDelivery,
			StaleState:        errStale,
			Unavailable:       errUnavailable,
		},
	}
}

func TestRunIssueCooldownAndSupersede(t *testing.T) {
	m := newMemChallenges(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var delivered []Delivery
	deps := testIssueDeps(m, &delivered)
	ctx := context.Background()

	first, err := RunIssue(ctx, IssueRequest{OwnerRef: "alice", Purpose: 1}, deps)
	if err != nil {
		t.Fatalf("first issue failed: %v", err)
	}
	if first.Channel != ChannelOTP || first.Cooldown != 30*time.Second {
		t.Fatalf("unexpected outcome: %+v", first)
	}

	if _, err := RunIssue(ctx, IssueRequest{OwnerRef: "alice", Purpose: 1}, deps); !errors.Is(err, errLimited) {
		t.Fatalf("expected cooldown rate limit, got %v", err)
	}

	m.now = m.now.Add(31 * time.Second)
	second, err := RunIssue(ctx, IssueRequest{OwnerRef: "alice", Purpose: 1, Resend: true}, deps)
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if m.records[first.ChallengeID].Status != stores.ChallengeSuperseded {
		t.Fatalf("expected first challenge superseded, got %s", m.records[first.ChallengeID].Status)
	}
	if m.records[second.ChallengeID].ResendCount != 1 {
		t.Fatalf("expected resend count 1, got %d", m.records[second.ChallengeID].ResendCount)
	}
	if len(delivered) != 2 {
		t.Fatalf("expected two deliveries, got %d", len(delivered))
	}
}

func TestRunIssueDeliveryFailureRollsBack(t *testing.T) {
	m := newMemChallenges(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var delivered []Delivery
	deps := testIssueDeps(m, &delivered)
	deps.Deliver = func(context.Context, Delivery) error { return errors.New("gateway down") }
	ctx := context.Background()

	if _, err := RunIssue(ctx, IssueRequest{OwnerRef: "alice", Purpose: 1}, deps); !errors.Is(err, errDelivery) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
	if _, ok := m.index[indexKey("alice", 1)]; ok {
		t.Fatal("failed delivery must not leave an index entry")
	}

	deps.Deliver = func(_ context.Context, d Delivery) error {
		delivered = append(delivered, d)
		return nil
	}
	if _, err := RunIssue(ctx, IssueRequest{OwnerRef: "alice", Purpose: 1}, deps); err != nil {
		t.Fatalf("immediate retry after failed delivery should succeed: %v", err)
	}
}

func TestRunIssueEnumerationSafeShadow(t *testing.T) {
	m := newMemChallenges(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var delivered []Delivery
	deps := testIssueDeps(m, &delivered)
	ctx := context.Background()

	out, err := RunIssue(ctx, IssueRequest{OwnerRef: "ghost", Purpose: 2}, deps)
	if err != nil {
		t.Fatalf("enumeration-safe issue failed: %v", err)
	}
	if len(delivered) != 0 {
		t.Fatal("shadow challenge must not be delivered")
	}
	if m.records[out.ChallengeID].SubjectRef != "" {
		t.Fatal("shadow challenge must have no subject")
	}

	if _, err := RunIssue(ctx, IssueRequest{OwnerRef: "ghost", Purpose: 1}, deps); !errors.Is(err, errNoSubject) {
		t.Fatalf("expected subject not found without enumeration safety, got %v", err)
	}
}

func TestRunIssueRejectsUnknownPurposeAndChannel(t *testing.T) {
	m := newMemChallenges(time.Now())
	var delivered []Delivery
	deps := testIssueDeps(m, &delivered)
	ctx := context.Background()

	if _, err := RunIssue(ctx, IssueRequest{OwnerRef: "a", Purpose: 9}, deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected invalid purpose, got %v", err)
	}
	if _, err := RunIssue(ctx, IssueRequest{OwnerRef: "a", Purpose: 1, Channel: ChannelLink}, deps); !errors.Is(err, errChannel) {
		t.Fatalf("expected channel not allowed, got %v", err)
	}
}

type memTokens struct {
	records map[[32]byte]*stores.ActionTokenRecord
	now     time.Time
}

func (m *memTokens) create(_ context.Context, _ string, h [32]byte, r *stores.ActionTokenRecord) error {
	for _, existing := range m.records {
		if existing.SourceChallengeID == r.SourceChallengeID {
			return stores.ErrTokenDuplicate
		}
	}
	cp := *r
	m.records[h] = &cp
	return nil
}

func (m *memTokens) get(_ context.Context, _ string, h [32]byte) (*stores.ActionTokenRecord, error) {
	r, ok := m.records[h]
	if !ok {
		return nil, stores.ErrTokenNotFound
	}
	cp := *r
	cp.Status = cp.EffectiveStatus(m.now)
	return &cp, nil
}

func (m *memTokens) consume(ctx context.Context, tenantID string, h [32]byte) (*stores.ActionTokenRecord, error) {
	cur, err := m.get(ctx, tenantID, h)
	if err != nil {
		return nil, err
	}
	if cur.Status != stores.TokenIssued {
		return cur, stores.ErrTokenStale
	}
	m.records[h].Status = stores.TokenConsumed
	cur.Status = stores.TokenConsumed
	return cur, nil
}

func hashID(id string) [32]byte {
	var h [32]byte
	copy(h[:], id)
	return h
}

func testVerifyDeps(m *memChallenges, tokens *memTokens) VerifyDeps {
	issue := testIssueDeps(m, new([]Delivery))
	return VerifyDeps{
		TokenTTL:             10 * time.Minute,
		Now:                  func() time.Time { return m.now },
		Get:                  m.get,
		MarkExpired:          func(ctx context.Context, tenantID, id string) error { _, err := m.cas(ctx, tenantID, id, stores.ChallengeExpired, nil); return err },
		CompareAndTransition: m.cas,
		HashSecret:           issue.HashSecret,
		NewActionTokenID:     func() (string, error) { return "tok-" + strconv.Itoa(len(tokens.records)), nil },
		HashTokenID:          hashID,
		CreateToken:          tokens.create,
		IsNotFound:           func(err error) bool { return errors.Is(err, stores.ErrChallengeNotFound) },
		IsStale:              func(err error) bool { return errors.Is(err, stores.ErrChallengeStale) },
		InvalidCode:          func(int) error { return errBadCode },
		Errors: VerifyErrors{
			EngineNotReady:   errNotReady,
			InvalidInput:     errInvalid,
			NotFound:         errNotFound,
			Expired:          errExpired,
			AlreadyFinalized: errFinalized,
			StaleState:       errStale,
			Unavailable:      errUnavailable,
		},
	}
}

func TestRunVerifyLifecycle(t *testing.T) {
	m := newMemChallenges(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tokens := &memTokens{records: map[[32]byte]*stores.ActionTokenRecord{}, now: m.now}
	var delivered []Delivery
	ctx := context.Background()

	out, err := RunIssue(ctx, IssueRequest{OwnerRef: "alice", Purpose: 1}, testIssueDeps(m, &delivered))
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	deps := testVerifyDeps(m, tokens)

	if _, err := RunVerify(ctx, out.ChallengeID, "000000", deps); !errors.Is(err, errBadCode) {
		t.Fatalf("expected bad code, got %v", err)
	}
	if m.records[out.ChallengeID].Attempts != 1 {
		t.Fatalf("expected one attempt recorded, got %d", m.records[out.ChallengeID].Attempts)
	}

	res, err := RunVerify(ctx, out.ChallengeID, delivered[0].Secret, deps)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if res.SubjectRef != "subj-alice" || res.Purpose != 1 {
		t.Fatalf("unexpected verify outcome: %+v", res)
	}
	if len(tokens.records) != 1 {
		t.Fatalf("expected exactly one token, got %d", len(tokens.records))
	}

	if _, err := RunVerify(ctx, out.ChallengeID, delivered[0].Secret, deps); !errors.Is(err, errFinalized) {
		t.Fatalf("expected already finalized, got %v", err)
	}
}

func TestRunVerifyExpiredMaterializes(t *testing.T) {
	m := newMemChallenges(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tokens := &memTokens{records: map[[32]byte]*stores.ActionTokenRecord{}}
	var delivered []Delivery
	ctx := context.Background()

	out, err := RunIssue(ctx, IssueRequest{OwnerRef: "alice", Purpose: 1}, testIssueDeps(m, &delivered))
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	m.now = m.now.Add(6 * time.Minute)

	if _, err := RunVerify(ctx, out.ChallengeID, delivered[0].Secret, testVerifyDeps(m, tokens)); !errors.Is(err, errExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if m.records[out.ChallengeID].Status != stores.ChallengeExpired {
		t.Fatalf("expected persisted EXPIRED, got %s", m.records[out.ChallengeID].Status)
	}
}

func TestRunVerifyExhaustsAttempts(t *testing.T) {
	m := newMemChallenges(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tokens := &memTokens{records: map[[32]byte]*stores.ActionTokenRecord{}}
	var delivered []Delivery
	ctx := context.Background()

	out, err := RunIssue(ctx, IssueRequest{OwnerRef: "alice", Purpose: 1}, testIssueDeps(m, &delivered))
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	deps := testVerifyDeps(m, tokens)
	remaining := -1
	deps.InvalidCode = func(r int) error {
		remaining = r
		return errBadCode
	}

	for i := 0; i < 5; i++ {
		if _, err := RunVerify(ctx, out.ChallengeID, "999999", deps); !errors.Is(err, errBadCode) {
			t.Fatalf("attempt %d: expected bad code, got %v", i, err)
		}
	}
	if remaining != 0 {
		t.Fatalf("expected zero attempts remaining, got %d", remaining)
	}
	if m.records[out.ChallengeID].Status != stores.ChallengeFailed {
		t.Fatalf("expected FAILED, got %s", m.records[out.ChallengeID].Status)
	}
	if _, err := RunVerify(ctx, out.ChallengeID, delivered[0].Secret, deps); !errors.Is(err, errFinalized) {
		t.Fatalf("correct code after exhaustion must be rejected, got %v", err)
	}
}

func TestRunVerifyShadowNeverMatches(t *testing.T) {
	m := newMemChallenges(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tokens := &memTokens{records: map[[32]byte]*stores.ActionTokenRecord{}}
	ctx := context.Background()

	out, err := RunIssue(ctx, IssueRequest{OwnerRef: "ghost", Purpose: 2}, testIssueDeps(m, new([]Delivery)))
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := RunVerify(ctx, out.ChallengeID, "123456", testVerifyDeps(m, tokens)); !errors.Is(err, errBadCode) {
		t.Fatalf("expected shadow challenge to reject the generated code, got %v", err)
	}
}

func testRedeemDeps(tokens *memTokens) RedeemDeps {
	return RedeemDeps{
		HashTokenID: hashID,
		Get:         tokens.get,
		Consume:     tokens.consume,
		IsNotFound:  func(err error) bool { return errors.Is(err, stores.ErrTokenNotFound) },
		IsStale:     func(err error) bool { return errors.Is(err, stores.ErrTokenStale) },
		Errors: RedeemErrors{
			EngineNotReady:  errNotReady,
			InvalidInput:    errInvalid,
			NotFound:        errNotFound,
			TokenExpired:    errTokExpired,
			AlreadyConsumed: errConsumed,
			PurposeMismatch: errMismatch,
			ActionFailed:    errAction,
			Unavailable:     errUnavailable,
		},
	}
}

func TestRunRedeemOrdering(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := &memTokens{records: map[[32]byte]*stores.ActionTokenRecord{}, now: now}
	_ = tokens.create(context.Background(), "", hashID("tok"), &stores.ActionTokenRecord{
		SourceChallengeID: "c-1",
		SubjectRef:        "user-1",
		Purpose:           1,
		Status:            stores.TokenIssued,
		ExpiresAt:         now.Add(10 * time.Minute),
	})
	deps := testRedeemDeps(tokens)
	ctx := context.Background()

	calls := 0
	mutate := func(_ context.Context, subject string) error {
		calls++
		if subject != "user-1" {
			t.Fatalf("unexpected subject %q", subject)
		}
		return nil
	}

	if err := RunRedeem(ctx, "missing", 1, mutate, deps); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := RunRedeem(ctx, "tok", 2, mutate, deps); !errors.Is(err, errMismatch) {
		t.Fatalf("expected purpose mismatch, got %v", err)
	}
	if err := RunRedeem(ctx, "tok", 1, mutate, deps); err != nil {
		t.Fatalf("redeem after mismatch should still succeed: %v", err)
	}
	if err := RunRedeem(ctx, "tok", 1, mutate, deps); !errors.Is(err, errConsumed) {
		t.Fatalf("expected already consumed, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("mutation must run exactly once, ran %d", calls)
	}
}

func TestRunRedeemActionFailureNotRefunded(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := &memTokens{records: map[[32]byte]*stores.ActionTokenRecord{}, now: now}
	_ = tokens.create(context.Background(), "", hashID("tok"), &stores.ActionTokenRecord{
		SourceChallengeID: "c-1",
		Purpose:           1,
		Status:            stores.TokenIssued,
		ExpiresAt:         now.Add(10 * time.Minute),
	})
	deps := testRedeemDeps(tokens)
	ctx := context.Background()

	boom := errors.New("db down")
	err := RunRedeem(ctx, "tok", 1, func(context.Context, string) error { return boom }, deps)
	if !errors.Is(err, errAction) || !errors.Is(err, boom) {
		t.Fatalf("expected action failure wrapping cause, got %v", err)
	}
	if err := RunRedeem(ctx, "tok", 1, func(context.Context, string) error { return nil }, deps); !errors.Is(err, errConsumed) {
		t.Fatalf("token must stay consumed after action failure, got %v", err)
	}
}

func TestRunRedeemExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := &memTokens{records: map[[32]byte]*stores.ActionTokenRecord{}, now: now.Add(11 * time.Minute)}
	_ = tokens.create(context.Background(), "", hashID("tok"), &stores.ActionTokenRecord{
		SourceChallengeID: "c-1",
		Purpose:           1,
		Status:            stores.TokenIssued,
		ExpiresAt:         now.Add(10 * time.Minute),
	})

	err := RunRedeem(context.Background(), "tok", 1, func(context.Context, string) error { return nil }, testRedeemDeps(tokens))
	if !errors.Is(err, errTokExpired) {
		t.Fatalf("expected token expired, got %v", err)
	}
}
