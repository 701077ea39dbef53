package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrChallengeNotFound         = errors.New("challenge not found")
	ErrChallengeConflict         = errors.New("challenge already pending for owner and purpose")
	ErrChallengeStale            = errors.New("challenge state changed")
	ErrChallengeRedisUnavailable = errors.New("challenge redis unavailable")
)

// ChallengeStatus is the persisted lifecycle state of a challenge.
type ChallengeStatus uint8

const (
	ChallengePending ChallengeStatus = iota + 1
	ChallengeVerified
	ChallengeConsumed
	ChallengeExpired
	ChallengeFailed
	ChallengeSuperseded
)

// Terminal reports whether no further transition is permitted.
func (s ChallengeStatus) Terminal() bool {
	switch s {
	case ChallengeConsumed, ChallengeExpired, ChallengeFailed, ChallengeSuperseded:
		return true
	default:
		return false
	}
}

func (s ChallengeStatus) String() string {
	switch s {
	case ChallengePending:
		return "PENDING"
	case ChallengeVerified:
		return "VERIFIED"
	case ChallengeConsumed:
		return "CONSUMED"
	case ChallengeExpired:
		return "EXPIRED"
	case ChallengeFailed:
		return "FAILED"
	case ChallengeSuperseded:
		return "SUPERSEDED"
	default:
		return "UNKNOWN"
	}
}

type ChallengeRecord struct {
	ID           string
	OwnerRef     string
	SubjectRef   string
	Purpose      uint8
	Channel      uint8
	Status       ChallengeStatus
	SecretHash   [32]byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
	NextResendAt time.Time
	VerifiedAt   time.Time
	Attempts     uint16
	MaxAttempts  uint16
	ResendCount  uint16
	Revision     uint32
}

// EffectiveStatus applies lazy expiry: a PENDING record strictly past ExpiresAt reads
// as EXPIRED even before MarkExpired persists it.
func (r *ChallengeRecord) EffectiveStatus(now time.Time) ChallengeStatus {
	if r.Status == ChallengePending && now.After(r.ExpiresAt) {
		return ChallengeExpired
	}
	return r.Status
}

// ChallengeMutation edits a copy of the record inside a CAS transaction.
// Returning an error aborts the transaction without writing.
type ChallengeMutation func(record *ChallengeRecord) error

type ChallengeStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

var deleteIndexIfMatchScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewChallengeStore(redisClient redis.UniversalClient, prefix string, retention time.Duration, now func() time.Time) *ChallengeStore {
	if prefix == "" {
		prefix = "avc"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &ChallengeStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
		now:       now,
	}
}

func (s *ChallengeStore) recordKey(tenantID, challengeID string) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":c:" + challengeID
}

func (s *ChallengeStore) ownerKey(tenantID, ownerRef string, purpose uint8) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":o:" + strconv.Itoa(int(purpose)) + ":" + ownerRef
}

// ttl keeps a record around long enough to answer EXPIRED and
// ALREADY_FINALIZED, and to gate the resend cooldown.
func (s *ChallengeStore) ttl(record *ChallengeRecord) time.Duration {
	until := record.ExpiresAt
	if record.NextResendAt.After(until) {
		until = record.NextResendAt
	}
	ttl := until.Add(s.retention).Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Put stores a new PENDING challenge and points the (owner, purpose) index at
// it. It fails with ErrChallengeConflict while the indexed challenge is still
// effectively PENDING.
func (s *ChallengeStore) Put(ctx context.Context, tenantID string, record *ChallengeRecord) error {
	const maxRetries = 4

	if record == nil || record.ID == "" || record.OwnerRef == "" {
		return errors.New("challenge record incomplete")
	}

	encoded, err := encodeChallengeRecord(record)
	if err != nil {
		return err
	}

	indexKey := s.ownerKey(tenantID, record.OwnerRef, record.Purpose)
	key := s.recordKey(tenantID, record.ID)
	ttl := s.ttl(record)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			prevID, err := tx.Get(ctx, indexKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			if prevID != "" {
				prevKey := s.recordKey(tenantID, prevID)
				if err := tx.Watch(ctx, prevKey).Err(); err != nil {
					return err
				}
				data, err := tx.Get(ctx, prevKey).Bytes()
				if err != nil && !errors.Is(err, redis.Nil) {
					return err
				}
				if err == nil {
					prev, err := decodeChallengeRecord(data)
					if err != nil {
						return err
					}
					if prev.EffectiveStatus(s.now()) == ChallengePending {
						return ErrChallengeConflict
					}
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				pipe.Set(ctx, indexKey, record.ID, ttl)
				return nil
			})
			return err
		}, indexKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrChallengeConflict) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
		}
		return nil
	}

	return ErrChallengeStale
}

// Get returns the record with lazy expiry applied to Status.
func (s *ChallengeStore) Get(ctx context.Context, tenantID, challengeID string) (*ChallengeRecord, error) {
	data, err := s.redis.Get(ctx, s.recordKey(tenantID, challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}

	record, err := decodeChallengeRecord(data)
	if err != nil {
		return nil, err
	}
	record.Status = record.EffectiveStatus(s.now())
	return record, nil
}

// Latest returns the most recent issuance for (owner, purpose) in any status.
func (s *ChallengeStore) Latest(ctx context.Context, tenantID, ownerRef string, purpose uint8) (*ChallengeRecord, error) {
	challengeID, err := s.redis.Get(ctx, s.ownerKey(tenantID, ownerRef, purpose)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return s.Get(ctx, tenantID, challengeID)
}

func (s *ChallengeStore) GetActiveByOwnerPurpose(ctx context.Context, tenantID, ownerRef string, purpose uint8) (*ChallengeRecord, error) {
	record, err := s.Latest(ctx, tenantID, ownerRef, purpose)
	if err != nil {
		return nil, err
	}
	if record.Status != ChallengePending {
		return nil, ErrChallengeNotFound
	}
	return record, nil
}

// CompareAndTransition is the only mutation path. The mutation runs against a
// copy whose Status already reflects lazy expiry; the write happens only if
// that effective status equals expected and nobody else wrote in between.
// On ErrChallengeStale the current record is returned alongside the error.
func (s *ChallengeStore) CompareAndTransition(
	ctx context.Context,
	tenantID, challengeID string,
	expected ChallengeStatus,
	mutate ChallengeMutation,
) (*ChallengeRecord, error) {
	const maxRetries = 4
	key := s.recordKey(tenantID, challengeID)

	for i := 0; i < maxRetries; i++ {
		var (
			updated     *ChallengeRecord
			current     *ChallengeRecord
			mutationErr error
		)

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallengeRecord(data)
			if err != nil {
				return err
			}

			stored := record.Status
			record.Status = record.EffectiveStatus(s.now())
			current = record

			if stored.Terminal() || record.Status != expected {
				return ErrChallengeStale
			}

			next := *record
			if mutate != nil {
				if err := mutate(&next); err != nil {
					mutationErr = err
					return err
				}
			}
			if !challengeTransitionAllowed(record.Status, next.Status) {
				return fmt.Errorf("challenge transition %s -> %s not allowed", record.Status, next.Status)
			}
			next.Revision++

			encoded, err := encodeChallengeRecord(&next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.ttl(&next))
				return nil
			})
			if err != nil {
				return err
			}

			updated = &next
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if mutationErr != nil {
			return current, mutationErr
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrChallengeNotFound
			case errors.Is(err, ErrChallengeStale):
				return current, err
			case errors.Is(err, errRecordCorrupt):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
			}
		}

		return updated, nil
	}

	return nil, ErrChallengeStale
}

// MarkExpired persists the EXPIRED status of a lazily expired challenge.
func (s *ChallengeStore) MarkExpired(ctx context.Context, tenantID, challengeID string) error {
	_, err := s.CompareAndTransition(ctx, tenantID, challengeID, ChallengeExpired, nil)
	return err
}

// Rollback supersedes a PENDING challenge whose delivery failed and drops the
// owner index pointer so the failed attempt does not start a cooldown.
func (s *ChallengeStore) Rollback(ctx context.Context, tenantID string, record *ChallengeRecord) error {
	_, err := s.CompareAndTransition(ctx, tenantID, record.ID, ChallengePending, func(r *ChallengeRecord) error {
		r.Status = ChallengeSuperseded
		return nil
	})
	if err != nil && !errors.Is(err, ErrChallengeStale) {
		return err
	}

	indexKey := s.ownerKey(tenantID, record.OwnerRef, record.Purpose)
	if err := deleteIndexIfMatchScript.Run(ctx, s.redis, []string{indexKey}, record.ID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

func challengeTransitionAllowed(from, to ChallengeStatus) bool {
	if from == to {
		return from == ChallengePending || from == ChallengeExpired
	}
	switch from {
	case ChallengePending:
		switch to {
		case ChallengeVerified, ChallengeConsumed, ChallengeExpired, ChallengeFailed, ChallengeSuperseded:
			return true
		}
	case ChallengeVerified:
		return to == ChallengeConsumed
	}
	return false
}

// Ping measures one round trip to Redis.
func (s *ChallengeStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := s.redis.Ping(ctx).Err()
	return time.Since(start), err
}
