package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTokenNotFound         = errors.New("action token not found")
	ErrTokenDuplicate        = errors.New("action token already minted for challenge")
	ErrTokenStale            = errors.New("action token state changed")
	ErrTokenRedisUnavailable = errors.New("action token redis unavailable")
)

type TokenStatus uint8

const (
	TokenIssued TokenStatus = iota + 1
	TokenConsumed
	TokenExpired
)

func (s TokenStatus) String() string {
	switch s {
	case TokenIssued:
		return "ISSUED"
	case TokenConsumed:
		return "CONSUMED"
	case TokenExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

type ActionTokenRecord struct {
	SourceChallengeID string
	SubjectRef        string
	Purpose           uint8
	Status            TokenStatus
	CreatedAt         time.Time
	ExpiresAt         time.Time
	ConsumedAt        time.Time
	Revision          uint32
}

func (r *ActionTokenRecord) EffectiveStatus(now time.Time) TokenStatus {
	if r.Status == TokenIssued && now.After(r.ExpiresAt) {
		return TokenExpired
	}
	return r.Status
}

// ActionTokenStore keeps action tokens keyed by the hash of their id. The
// plaintext id is never written.
type ActionTokenStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// mintTokenScript claims the provenance slot of the source challenge and
// writes the token in one step. KEYS[1]=provenance KEYS[2]=token
// ARGV[1]=token hash ARGV[2]=record ARGV[3]=ttl ms.
var mintTokenScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[3]) then
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

func NewActionTokenStore(redisClient redis.UniversalClient, prefix string, retention time.Duration, now func() time.Time) *ActionTokenStore {
	if prefix == "" {
		prefix = "avt"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &ActionTokenStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
		now:       now,
	}
}

func (s *ActionTokenStore) key(tenantID string, tokenHash [32]byte) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":" + hex.EncodeToString(tokenHash[:])
}

func (s *ActionTokenStore) provenanceKey(tenantID, challengeID string) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":src:" + challengeID
}

func (s *ActionTokenStore) ttl(record *ActionTokenRecord) time.Duration {
	ttl := record.ExpiresAt.Add(s.retention).Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Create mints a token. A source challenge can back at most one token; a
// second mint for the same challenge fails with ErrTokenDuplicate.
func (s *ActionTokenStore) Create(ctx context.Context, tenantID string, tokenHash [32]byte, record *ActionTokenRecord) error {
	if record == nil || record.SourceChallengeID == "" {
		return errors.New("action token record incomplete")
	}

	encoded, err := encodeActionTokenRecord(record)
	if err != nil {
		return err
	}

	ttl := s.ttl(record)
	res, err := mintTokenScript.Run(
		ctx,
		s.redis,
		[]string{s.provenanceKey(tenantID, record.SourceChallengeID), s.key(tenantID, tokenHash)},
		hex.EncodeToString(tokenHash[:]),
		encoded,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	if res != 1 {
		return ErrTokenDuplicate
	}
	return nil
}

// Get returns the record with lazy expiry applied to Status.
func (s *ActionTokenStore) Get(ctx context.Context, tenantID string, tokenHash [32]byte) (*ActionTokenRecord, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}

	record, err := decodeActionTokenRecord(data)
	if err != nil {
		return nil, err
	}
	record.Status = record.EffectiveStatus(s.now())
	return record, nil
}

// Consume moves an ISSUED token to CONSUMED exactly once. Any other effective
// status yields ErrTokenStale together with the current record.
func (s *ActionTokenStore) Consume(ctx context.Context, tenantID string, tokenHash [32]byte) (*ActionTokenRecord, error) {
	const maxRetries = 4
	key := s.key(tenantID, tokenHash)

	for i := 0; i < maxRetries; i++ {
		var updated, current *ActionTokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeActionTokenRecord(data)
			if err != nil {
				return err
			}
			now := s.now()
			record.Status = record.EffectiveStatus(now)
			current = record

			if record.Status != TokenIssued {
				return ErrTokenStale
			}

			next := *record
			next.Status = TokenConsumed
			next.ConsumedAt = now
			next.Revision++

			encoded, err := encodeActionTokenRecord(&next)
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
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrTokenNotFound
			case errors.Is(err, ErrTokenStale):
				return current, err
			case errors.Is(err, errRecordCorrupt):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
			}
		}

		return updated, nil
	}

	return nil, ErrTokenStale
}
