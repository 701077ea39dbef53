package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/password"
)

var (
	ErrNotFound      = errors.New("account not found")
	ErrAlreadyExists = errors.New("account already exists")
)

// Account is one user account. Phone is E.164 and Email lower case; either
// may be empty.
type Account struct {
	ID           string    `db:"id"`
	TenantID     string    `db:"tenant_id"`
	Phone        string    `db:"phone"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// DealerApplication is a dealer sign-up whose phone must be proven.
type DealerApplication struct {
	ID              string     `db:"id"`
	TenantID        string     `db:"tenant_id"`
	Phone           string     `db:"phone"`
	PhoneVerifiedAt *time.Time `db:"phone_verified_at"`
	CreatedAt       time.Time  `db:"created_at"`
}

// Store is implemented by the Postgres and in-memory stores.
type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	AccountByID(ctx context.Context, tenantID, id string) (*Account, error)
	AccountByPhone(ctx context.Context, tenantID, phone string) (*Account, error)
	AccountByEmail(ctx context.Context, tenantID, email string) (*Account, error)
	SetPasswordHash(ctx context.Context, tenantID, id, hash string) error

	CreateDealerApplication(ctx context.Context, d *DealerApplication) error
	DealerApplicationByPhone(ctx context.Context, tenantID, phone string) (*DealerApplication, error)
	MarkDealerPhoneVerified(ctx context.Context, tenantID, id string, at time.Time) error
}

// Resolver maps owner references to subjects for the engine. Password
// purposes resolve to an account id; DEALER_PHONE_VERIFY resolves to a
// pending dealer application id.
type Resolver struct {
	Store Store
}

func (r Resolver) ResolveSubject(ctx context.Context, purpose goVerify.Purpose, ownerRef string) (goVerify.Subject, error) {
	tenantID := goVerify.TenantIDFromContext(ctx)

	switch purpose {
	case goVerify.PurposeDealerPhoneVerify:
		app, err := r.Store.DealerApplicationByPhone(ctx, tenantID, ownerRef)
		if err != nil {
			return goVerify.Subject{}, subjectError(err)
		}
		return goVerify.Subject{Ref: app.ID}, nil
	default:
		var (
			acc *Account
			err error
		)
		if strings.HasPrefix(ownerRef, "+") {
			acc, err = r.Store.AccountByPhone(ctx, tenantID, ownerRef)
		} else {
			acc, err = r.Store.AccountByEmail(ctx, tenantID, ownerRef)
		}
		if err != nil {
			return goVerify.Subject{}, subjectError(err)
		}
		return goVerify.Subject{Ref: acc.ID}, nil
	}
}

func subjectError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return goVerify.ErrSubjectNotFound
	}
	return err
}

// Actions builds the mutations run after an action token is redeemed.
type Actions struct {
	Store  Store
	Hasher *password.Hasher
	Policy password.Policy
	Now    func() time.Time
}

// ValidatePassword checks newPassword before any token is spent.
func (a Actions) ValidatePassword(newPassword string) error {
	return a.Policy.Validate(newPassword)
}

// SetPassword returns the mutation for CHANGE_PASSWORD and FORGOT_PASSWORD.
func (a Actions) SetPassword(newPassword string) goVerify.MutationFunc {
	return func(ctx context.Context, accountID string) error {
		if err := a.Policy.Validate(newPassword); err != nil {
			return err
		}
		hash, err := a.Hasher.Hash(newPassword)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		return a.Store.SetPasswordHash(ctx, goVerify.TenantIDFromContext(ctx), accountID, hash)
	}
}

// MarkDealerPhoneVerified returns the mutation for DEALER_PHONE_VERIFY.
func (a Actions) MarkDealerPhoneVerified() goVerify.MutationFunc {
	return func(ctx context.Context, applicationID string) error {
		now := time.Now
		if a.Now != nil {
			now = a.Now
		}
		return a.Store.MarkDealerPhoneVerified(ctx, goVerify.TenantIDFromContext(ctx), applicationID, now().UTC())
	}
}

type passwordPayload struct {
	NewPassword string `json:"newPassword"`
}

// Prepare decodes the redeem payload for purpose and returns the mutation to
// run. Errors are returned before the token is touched.
func (a Actions) Prepare(_ context.Context, purpose goVerify.Purpose, payload json.RawMessage) (goVerify.MutationFunc, error) {
	switch purpose {
	case goVerify.PurposeChangePassword, goVerify.PurposeForgotPassword:
		var p passwordPayload
		if len(payload) == 0 {
			return nil, errors.New("newPassword is required")
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		if err := a.ValidatePassword(p.NewPassword); err != nil {
			return nil, err
		}
		return a.SetPassword(p.NewPassword), nil
	case goVerify.PurposeDealerPhoneVerify:
		return a.MarkDealerPhoneVerified(), nil
	default:
		return nil, fmt.Errorf("no action for purpose %q", purpose)
	}
}
