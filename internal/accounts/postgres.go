package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Schema creates the tables used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id     TEXT NOT NULL DEFAULT '0',
	phone         TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS accounts_tenant_phone ON accounts (tenant_id, phone) WHERE phone <> '';
CREATE UNIQUE INDEX IF NOT EXISTS accounts_tenant_email ON accounts (tenant_id, email) WHERE email <> '';

CREATE TABLE IF NOT EXISTS dealer_applications (
	id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id         TEXT NOT NULL DEFAULT '0',
	phone             TEXT NOT NULL,
	phone_verified_at TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS dealer_applications_tenant_phone ON dealer_applications (tenant_id, phone);
`

const uniqueViolation = "23505"

// PostgresStore keeps accounts in PostgreSQL through sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("accounts: connect %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("accounts: migrate %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *Account) error {
	query := `
		INSERT INTO accounts (tenant_id, phone, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowxContext(ctx, query, a.TenantID, a.Phone, a.Email, a.PasswordHash).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("accounts: create %w", err)
	}
	return nil
}

const accountColumns = `id, tenant_id, phone, email, password_hash, created_at, updated_at`

func (s *PostgresStore) getAccount(ctx context.Context, where string, args ...any) (*Account, error) {
	var a Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where
	if err := s.db.GetContext(ctx, &a, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("accounts: get %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) AccountByID(ctx context.Context, tenantID, id string) (*Account, error) {
	return s.getAccount(ctx, `tenant_id = $1 AND id::text = $2`, tenantID, id)
}

func (s *PostgresStore) AccountByPhone(ctx context.Context, tenantID, phone string) (*Account, error) {
	return s.getAccount(ctx, `tenant_id = $1 AND phone = $2`, tenantID, phone)
}

func (s *PostgresStore) AccountByEmail(ctx context.Context, tenantID, email string) (*Account, error) {
	return s.getAccount(ctx, `tenant_id = $1 AND email = $2`, tenantID, email)
}

func (s *PostgresStore) SetPasswordHash(ctx context.Context, tenantID, id, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET password_hash = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id::text = $2
	`, tenantID, id, hash)
	if err != nil {
		return fmt.Errorf("accounts: set password %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) CreateDealerApplication(ctx context.Context, d *DealerApplication) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO dealer_applications (tenant_id, phone)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, d.TenantID, d.Phone).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("accounts: create dealer application %w", err)
	}
	return nil
}

func (s *PostgresStore) DealerApplicationByPhone(ctx context.Context, tenantID, phone string) (*DealerApplication, error) {
	var d DealerApplication
	err := s.db.GetContext(ctx, &d, `
		SELECT id, tenant_id, phone, phone_verified_at, created_at
		FROM dealer_applications
		WHERE tenant_id = $1 AND phone = $2 AND phone_verified_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("accounts: get dealer application %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) MarkDealerPhoneVerified(ctx context.Context, tenantID, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dealer_applications SET phone_verified_at = $3
		WHERE tenant_id = $1 AND id::text = $2
	`, tenantID, id, at)
	if err != nil {
		return fmt.Errorf("accounts: mark dealer phone verified %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
