package listing

import (
	"context"
	"database/sql"
	"strconv"
	"time"
)

// PostgresStore persists listings in PostgreSQL.
//
// The reservation transitions are single guarded UPDATE statements: the
// status (and owning order) predicate in the WHERE clause makes each
// transition a linearizable compare-and-set, so two buyers racing for the
// same stub cannot both reserve it.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const listingColumns = `id, seller_id, title, description, event_name, event_date,
		       price_cents, currency, status, payment_required,
		       reserved_by, reserved_until, sold_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, seller_id, title, description, event_name, event_date,
			price_cents, currency, status, payment_required,
			reserved_by, reserved_until, sold_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)`,
		l.ID, l.SellerID, l.Title, nullString(l.Description),
		l.EventName, nullTime(l.EventDate),
		l.PriceCents, l.Currency, string(l.Status), l.PaymentRequired,
		nullString(l.ReservedBy), nullTime(l.ReservedUntil),
		nullTime(l.SoldAt), l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)

	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrListingNotFound
	}
	return l, err
}

func (p *PostgresStore) Update(ctx context.Context, l *Listing) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET
			title = $1, description = $2, event_name = $3, event_date = $4,
			price_cents = $5, status = $6, reserved_by = $7, reserved_until = $8,
			sold_at = $9, updated_at = $10
		WHERE id = $11`,
		l.Title, nullString(l.Description), l.EventName, nullTime(l.EventDate),
		l.PriceCents, string(l.Status), nullString(l.ReservedBy), nullTime(l.ReservedUntil),
		nullTime(l.SoldAt), l.UpdatedAt,
		l.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result, ErrListingNotFound)
}

func (p *PostgresStore) List(ctx context.Context, filter Filter, limit, offset int) ([]*Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE 1=1`
	args := []interface{}{}
	i := 1

	if filter.SellerID != "" {
		query += ` AND seller_id = $` + itoa(i)
		args = append(args, filter.SellerID)
		i++
	}
	if filter.Status != "" {
		query += ` AND status = $` + itoa(i)
		args = append(args, string(filter.Status))
		i++
	}
	if filter.Event != "" {
		query += ` AND event_name = $` + itoa(i)
		args = append(args, filter.Event)
		i++
	}
	query += ` ORDER BY created_at DESC LIMIT $` + itoa(i) + ` OFFSET $` + itoa(i+1)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanListings(rows)
}

// Reserve succeeds when the listing is active, or reserved with a lapsed
// hold (the new buyer steals the expired reservation).
func (p *PostgresStore) Reserve(ctx context.Context, id, orderID string, until time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET
			status = 'reserved', reserved_by = $1, reserved_until = $2, updated_at = NOW()
		WHERE id = $3
		  AND (status = 'active'
		       OR (status = 'reserved' AND reserved_until < NOW()))`,
		orderID, until, id,
	)
	if err != nil {
		return err
	}
	return p.requireTransition(ctx, result, id, ErrNotAvailable)
}

func (p *PostgresStore) Release(ctx context.Context, id, orderID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET
			status = 'active', reserved_by = NULL, reserved_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'reserved' AND reserved_by = $2`,
		id, orderID,
	)
	if err != nil {
		return err
	}
	return p.requireTransition(ctx, result, id, ErrNotReserved)
}

func (p *PostgresStore) Finalize(ctx context.Context, id, orderID string, soldAt time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET
			status = 'sold', reserved_by = NULL, reserved_until = NULL,
			sold_at = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'reserved' AND reserved_by = $3`,
		soldAt, id, orderID,
	)
	if err != nil {
		return err
	}
	return p.requireTransition(ctx, result, id, ErrNotReserved)
}

func (p *PostgresStore) Reopen(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET
			status = 'active', sold_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'sold'`,
		id,
	)
	if err != nil {
		return err
	}
	return p.requireTransition(ctx, result, id, ErrNotSold)
}

func (p *PostgresStore) ListLapsedReservations(ctx context.Context, before time.Time, limit int) ([]*Listing, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE status = 'reserved' AND reserved_until < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanListings(rows)
}

// requireTransition maps a zero-row CAS UPDATE to not-found or a state
// conflict, depending on whether the row exists at all.
func (p *PostgresStore) requireTransition(ctx context.Context, result sql.Result, id string, conflict error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrListingNotFound
	}
	return conflict
}

func requireRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(s scanner) (*Listing, error) {
	l := &Listing{}
	var (
		description   sql.NullString
		eventDate     sql.NullTime
		status        string
		reservedBy    sql.NullString
		reservedUntil sql.NullTime
		soldAt        sql.NullTime
	)

	err := s.Scan(
		&l.ID, &l.SellerID, &l.Title, &description, &l.EventName, &eventDate,
		&l.PriceCents, &l.Currency, &status, &l.PaymentRequired,
		&reservedBy, &reservedUntil, &soldAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Status = Status(status)
	l.Description = description.String
	l.ReservedBy = reservedBy.String
	if eventDate.Valid {
		l.EventDate = &eventDate.Time
	}
	if reservedUntil.Valid {
		l.ReservedUntil = &reservedUntil.Time
	}
	if soldAt.Valid {
		l.SoldAt = &soldAt.Time
	}

	return l, nil
}

func scanListings(rows *sql.Rows) ([]*Listing, error) {
	var result []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
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

func itoa(i int) string {
	return strconv.Itoa(i)
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
