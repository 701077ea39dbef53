package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps accounts in process memory. It backs tests and the
// verifyd demo when no database URL is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	dealers  map[string]*DealerApplication
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[string]*Account{},
		dealers:  map[string]*DealerApplication{},
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.TenantID != a.TenantID {
			continue
		}
		if (a.Phone != "" && existing.Phone == a.Phone) || (a.Email != "" && existing.Email == a.Email) {
			return ErrAlreadyExists
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := s.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) AccountByID(_ context.Context, tenantID, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) findAccount(tenantID string, match func(*Account) bool) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.TenantID == tenantID && match(a) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) AccountByPhone(_ context.Context, tenantID, phone string) (*Account, error) {
	return s.findAccount(tenantID, func(a *Account) bool { return a.Phone == phone })
}

func (s *MemoryStore) AccountByEmail(_ context.Context, tenantID, email string) (*Account, error) {
	return s.findAccount(tenantID, func(a *Account) bool { return a.Email == email })
}

func (s *MemoryStore) SetPasswordHash(_ context.Context, tenantID, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || a.TenantID != tenantID {
		return ErrNotFound
	}
	a.PasswordHash = hash
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) CreateDealerApplication(_ context.Context, d *DealerApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = s.now().UTC()
	cp := *d
	s.dealers[d.ID] = &cp
	return nil
}

// DealerApplicationByPhone returns the newest unverified application for phone.
func (s *MemoryStore) DealerApplicationByPhone(_ context.Context, tenantID, phone string) (*DealerApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *DealerApplication
	for _, d := range s.dealers {
		if d.TenantID != tenantID || d.Phone != phone || d.PhoneVerifiedAt != nil {
			continue
		}
		if best == nil || d.CreatedAt.After(best.CreatedAt) {
			best = d
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) MarkDealerPhoneVerified(_ context.Context, tenantID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dealers[id]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.PhoneVerifiedAt = &at
	return nil
}
