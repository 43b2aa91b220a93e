package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists orders and payments in PostgreSQL.
//
// A partial unique index on orders(listing_id) WHERE status =
// 'payment_pending' enforces one active order per listing; the 23505 it
// raises maps to ErrDuplicateOrder.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, listing_id, buyer_id, seller_id, amount_cents,
		       platform_fee_cents, seller_amount_cents, currency, status,
		       payout_delay_days, confirmed_at, completed_at, cancelled_at,
		       refunded_at, created_at, updated_at`

const paymentColumns = `id, order_id, intent_id, charge_id, refund_id, status,
		       amount_cents, platform_fee_cents, gateway_fee_cents,
		       liability_status, seller_account_id, failure_reason,
		       completed_at, refunded_at, created_at, updated_at`

func (p *PostgresStore) CreateOrderWithPayment(ctx context.Context, o *Order, pay *Payment) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, listing_id, buyer_id, seller_id, amount_cents,
			platform_fee_cents, seller_amount_cents, currency, status,
			payout_delay_days, confirmed_at, completed_at, cancelled_at,
			refunded_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		o.ID, o.ListingID, o.BuyerID, o.SellerID, o.AmountCents,
		o.PlatformFeeCents, o.SellerAmountCents, o.Currency, string(o.Status),
		o.PayoutDelayDays, nullTime(o.ConfirmedAt), nullTime(o.CompletedAt),
		nullTime(o.CancelledAt), nullTime(o.RefundedAt), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, intent_id, charge_id, refund_id, status,
			amount_cents, platform_fee_cents, gateway_fee_cents,
			liability_status, seller_account_id, failure_reason,
			completed_at, refunded_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		pay.ID, pay.OrderID, pay.IntentID, nullString(pay.ChargeID), nullString(pay.RefundID),
		string(pay.Status), pay.AmountCents, pay.PlatformFeeCents, pay.GatewayFeeCents,
		string(pay.LiabilityStatus), nullString(pay.SellerAccountID), nullString(pay.FailureReason),
		nullTime(pay.CompletedAt), nullTime(pay.RefundedAt), pay.CreatedAt, pay.UpdatedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) DeleteOrderAndPayment(ctx context.Context, orderID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM payments WHERE order_id = $1`, orderID); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOrderNotFound
	}

	return tx.Commit()
}

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (p *PostgresStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	pay, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return pay, err
}

func (p *PostgresStore) GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
	pay, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return pay, err
}

// GetPaymentByIntentID ignores the IntentPending sentinel: many drafts may
// carry it at once, so it never identifies a payment.
func (p *PostgresStore) GetPaymentByIntentID(ctx context.Context, intentID string) (*Payment, error) {
	if intentID == IntentPending || intentID == "" {
		return nil, ErrPaymentNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE intent_id = $1`, intentID)
	pay, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return pay, err
}

func (p *PostgresStore) GetPaymentByChargeID(ctx context.Context, chargeID string) (*Payment, error) {
	if chargeID == "" {
		return nil, ErrPaymentNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE charge_id = $1`, chargeID)
	pay, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return pay, err
}

func (p *PostgresStore) UpdateOrder(ctx context.Context, o *Order) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, payout_delay_days = $2, confirmed_at = $3,
			completed_at = $4, cancelled_at = $5, refunded_at = $6, updated_at = $7
		WHERE id = $8`,
		string(o.Status), o.PayoutDelayDays, nullTime(o.ConfirmedAt),
		nullTime(o.CompletedAt), nullTime(o.CancelledAt), nullTime(o.RefundedAt),
		o.UpdatedAt, o.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result, ErrOrderNotFound)
}

func (p *PostgresStore) UpdatePayment(ctx context.Context, pay *Payment) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payments SET
			intent_id = $1, charge_id = $2, refund_id = $3, status = $4,
			gateway_fee_cents = $5, liability_status = $6, seller_account_id = $7,
			failure_reason = $8, completed_at = $9, refunded_at = $10, updated_at = $11
		WHERE id = $12`,
		pay.IntentID, nullString(pay.ChargeID), nullString(pay.RefundID), string(pay.Status),
		pay.GatewayFeeCents, string(pay.LiabilityStatus), nullString(pay.SellerAccountID),
		nullString(pay.FailureReason), nullTime(pay.CompletedAt), nullTime(pay.RefundedAt),
		pay.UpdatedAt, pay.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result, ErrPaymentNotFound)
}

func (p *PostgresStore) ActiveOrderForListing(ctx context.Context, listingID string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE listing_id = $1 AND status = 'payment_pending'`, listingID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (p *PostgresStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Order, error) {
	return p.listOrders(ctx, `buyer_id = $1`, buyerID, limit)
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Order, error) {
	return p.listOrders(ctx, `seller_id = $1`, sellerID, limit)
}

func (p *PostgresStore) listOrders(ctx context.Context, where, arg string, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $2`, arg, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListStaleCreating(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	return p.listPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = 'creating' AND intent_id = $1 AND created_at < $2
		LIMIT $3`, IntentPending, before, limit)
}

func (p *PostgresStore) ListStuckPending(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	return p.listPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = 'pending' AND intent_id != $1 AND created_at < $2
		LIMIT $3`, IntentPending, before, limit)
}

func (p *PostgresStore) listPayments(ctx context.Context, query string, args ...interface{}) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pay)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*Order, error) {
	o := &Order{}
	var (
		status      string
		confirmedAt sql.NullTime
		completedAt sql.NullTime
		cancelledAt sql.NullTime
		refundedAt  sql.NullTime
	)

	err := s.Scan(
		&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID, &o.AmountCents,
		&o.PlatformFeeCents, &o.SellerAmountCents, &o.Currency, &status,
		&o.PayoutDelayDays, &confirmedAt, &completedAt, &cancelledAt,
		&refundedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = Status(status)
	if confirmedAt.Valid {
		o.ConfirmedAt = &confirmedAt.Time
	}
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		o.CancelledAt = &cancelledAt.Time
	}
	if refundedAt.Valid {
		o.RefundedAt = &refundedAt.Time
	}
	return o, nil
}

func scanPayment(s scanner) (*Payment, error) {
	p := &Payment{}
	var (
		chargeID        sql.NullString
		refundID        sql.NullString
		status          string
		liability       string
		sellerAccountID sql.NullString
		failureReason   sql.NullString
		completedAt     sql.NullTime
		refundedAt      sql.NullTime
	)

	err := s.Scan(
		&p.ID, &p.OrderID, &p.IntentID, &chargeID, &refundID, &status,
		&p.AmountCents, &p.PlatformFeeCents, &p.GatewayFeeCents,
		&liability, &sellerAccountID, &failureReason,
		&completedAt, &refundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = PaymentStatus(status)
	p.LiabilityStatus = LiabilityStatus(liability)
	p.ChargeID = chargeID.String
	p.RefundID = refundID.String
	p.SellerAccountID = sellerAccountID.String
	p.FailureReason = failureReason.String
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	if refundedAt.Valid {
		p.RefundedAt = &refundedAt.Time
	}
	return p, nil
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
