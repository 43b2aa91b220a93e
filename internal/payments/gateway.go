package payments

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	ErrNotRefundable      = errors.New("payments: order is not refundable")
	ErrNotCancellable     = errors.New("payments: order cannot be cancelled")
	ErrNotCompletable     = errors.New("payments: order is not awaiting confirmation")
	ErrNotYourOrder       = errors.New("payments: order belongs to another buyer")
	ErrPaymentNotRequired = errors.New("payments: listing is settled off-platform")
	ErrCurrencyMismatch   = errors.New("payments: listing currency not supported")
)

// GatewayError is a classified failure from the payment gateway.
// Retryable failures (network, 5xx, rate limits) may be retried with the
// same idempotency key; everything else is permanent.
type GatewayError struct {
	Code      string // Gateway error code, e.g. "card_declined"
	Type      string // Gateway error category
	Message   string
	Retryable bool
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error (%s): %s", e.Code, e.Message)
	}
	return "gateway error: " + e.Message
}

// CreateIntentRequest carries everything the gateway needs to open a
// direct-charge payment intent on the seller's connected account.
type CreateIntentRequest struct {
	AmountCents         int64
	Currency            string
	SellerAccountID     string
	ApplicationFeeCents int64
	LiabilityShift      bool   // Charge on the seller's account (on_behalf_of)
	TransferGroup       string // "order_<id>"
	OrderID             string
	ListingID           string
	BuyerID             string
	IdempotencyKey      string
}

// Intent is the gateway's view of a payment intent.
type Intent struct {
	ID               string
	Status           string // requires_payment_method, processing, succeeded, canceled...
	ClientSecret     string
	ChargeID         string // Latest charge, set once a charge exists
	GatewayFeeCents  int64  // From the charge's balance transaction, 0 until settled
	LiabilityShifted bool
}

// Succeeded reports whether the intent has a captured charge.
func (i *Intent) Succeeded() bool {
	return i.Status == "succeeded"
}

// RefundRequest carries the parameters for refunding a completed payment.
type RefundRequest struct {
	IntentID string
	Reason   string
	// ReverseTransfer and RefundApplicationFee unwind a direct charge:
	// pull the funds back from the seller and return the platform's cut.
	// Both are set when the original charge was liability-shifted.
	ReverseTransfer      bool
	RefundApplicationFee bool
	IdempotencyKey       string
}

// Refund is the gateway's view of a refund.
type Refund struct {
	ID     string
	Status string
}

// Gateway is the payment-provider boundary the purchase saga drives.
// The production implementation wraps the Stripe client; tests use fakes.
type Gateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
}
