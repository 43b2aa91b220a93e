package seller

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists sellers in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed seller store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sellerColumns = `id, email, country, account_id, charges_enabled,
		       payouts_enabled, details_submitted, default_currency,
		       disabled_reason, onboarded_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, s *Seller) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sellers (
			id, email, country, account_id, charges_enabled,
			payouts_enabled, details_submitted, default_currency,
			disabled_reason, onboarded_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.Email, s.Country, nullString(s.AccountID), s.ChargesEnabled,
		s.PayoutsEnabled, s.DetailsSubmitted, nullString(s.DefaultCurrency),
		nullString(s.DisabledReason), nullTime(s.OnboardedAt), s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Seller, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sellerColumns+` FROM sellers WHERE id = $1`, id)
	s, err := scanSeller(row)
	if err == sql.ErrNoRows {
		return nil, ErrSellerNotFound
	}
	return s, err
}

func (p *PostgresStore) GetByAccountID(ctx context.Context, accountID string) (*Seller, error) {
	if accountID == "" {
		return nil, ErrSellerNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+sellerColumns+` FROM sellers WHERE account_id = $1`, accountID)
	s, err := scanSeller(row)
	if err == sql.ErrNoRows {
		return nil, ErrSellerNotFound
	}
	return s, err
}

func (p *PostgresStore) Update(ctx context.Context, s *Seller) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE sellers SET
			email = $1, country = $2, account_id = $3, charges_enabled = $4,
			payouts_enabled = $5, details_submitted = $6, default_currency = $7,
			disabled_reason = $8, onboarded_at = $9, updated_at = $10
		WHERE id = $11`,
		s.Email, s.Country, nullString(s.AccountID), s.ChargesEnabled,
		s.PayoutsEnabled, s.DetailsSubmitted, nullString(s.DefaultCurrency),
		nullString(s.DisabledReason), nullTime(s.OnboardedAt), s.UpdatedAt,
		s.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSellerNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSeller(sc scanner) (*Seller, error) {
	s := &Seller{}
	var (
		accountID       sql.NullString
		defaultCurrency sql.NullString
		disabledReason  sql.NullString
		onboardedAt     sql.NullTime
	)

	err := sc.Scan(
		&s.ID, &s.Email, &s.Country, &accountID, &s.ChargesEnabled,
		&s.PayoutsEnabled, &s.DetailsSubmitted, &defaultCurrency,
		&disabledReason, &onboardedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.AccountID = accountID.String
	s.DefaultCurrency = defaultCurrency.String
	s.DisabledReason = disabledReason.String
	if onboardedAt.Valid {
		s.OnboardedAt = &onboardedAt.Time
	}
	return s, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
