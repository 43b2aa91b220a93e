// Package stripegw adapts the Stripe API to the gateway interfaces the
// payments and seller services consume.
package stripegw

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/stubcollector/stubmarket/internal/payments"
	"github.com/stubcollector/stubmarket/internal/seller"
)

// Client wraps the Stripe API client.
type Client struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
}

// New creates a Stripe gateway client.
func New(secretKey, webhookSecret string, tolerance time.Duration) *Client {
	return &Client{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		tolerance:     tolerance,
	}
}

// classify maps a Stripe error to a payments.GatewayError. Server-side
// and rate-limit failures are retryable; card declines and invalid
// requests are not.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		retryable := se.Type == stripe.ErrorTypeAPI ||
			se.HTTPStatusCode == 429 ||
			se.HTTPStatusCode >= 500
		return &payments.GatewayError{
			Code:      string(se.Code),
			Type:      string(se.Type),
			Message:   se.Msg,
			Retryable: retryable,
		}
	}
	// Transport-level failure: no Stripe response at all.
	return &payments.GatewayError{Message: err.Error(), Retryable: true}
}

// CreateIntent opens a payment intent for a listing purchase. With
// liability shift the charge runs on behalf of the seller's connected
// account with the platform fee carved out; without it the platform is
// the merchant of record and settles the seller later via the transfer
// group.
func (c *Client) CreateIntent(ctx context.Context, req payments.CreateIntentRequest) (*payments.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		TransferGroup: stripe.String(req.TransferGroup),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.LiabilityShift {
		params.OnBehalfOf = stripe.String(req.SellerAccountID)
		params.ApplicationFeeAmount = stripe.Int64(req.ApplicationFeeCents)
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.SellerAccountID),
		}
	}
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("listing_id", req.ListingID)
	params.AddMetadata("buyer_id", req.BuyerID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return intentFromStripe(pi), nil
}

// GetIntent retrieves an intent with its latest charge and the charge's
// balance transaction expanded, so the settled gateway fee is available.
func (c *Client) GetIntent(ctx context.Context, intentID string) (*payments.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge.balance_transaction")

	pi, err := c.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, classify(err)
	}
	return intentFromStripe(pi), nil
}

// CreateRefund refunds a payment intent.
func (c *Client) CreateRefund(ctx context.Context, req payments.RefundRequest) (*payments.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	params.Context = ctx
	if req.ReverseTransfer {
		params.ReverseTransfer = stripe.Bool(true)
	}
	if req.RefundApplicationFee {
		params.RefundApplicationFee = stripe.Bool(true)
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := c.api.Refunds.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &payments.Refund{ID: r.ID, Status: string(r.Status)}, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *payments.Intent {
	intent := &payments.Intent{
		ID:               pi.ID,
		Status:           string(pi.Status),
		ClientSecret:     pi.ClientSecret,
		LiabilityShifted: pi.OnBehalfOf != nil,
	}
	if pi.LatestCharge != nil {
		intent.ChargeID = pi.LatestCharge.ID
		if pi.LatestCharge.BalanceTransaction != nil {
			intent.GatewayFeeCents = pi.LatestCharge.BalanceTransaction.Fee
		}
	}
	return intent
}

// CreateExpressAccount creates an express connected account for a seller.
func (c *Client) CreateExpressAccount(ctx context.Context, email, country string) (string, error) {
	params := &stripe.AccountParams{
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Email:   stripe.String(email),
		Country: stripe.String(country),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx

	acct, err := c.api.Accounts.New(params)
	if err != nil {
		return "", classify(err)
	}
	return acct.ID, nil
}

// AccountLink returns a hosted onboarding URL for a connected account.
func (c *Client) AccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := c.api.AccountLinks.New(params)
	if err != nil {
		return "", classify(err)
	}
	return link.URL, nil
}

// DashboardLink returns a one-time express dashboard login URL.
func (c *Client) DashboardLink(ctx context.Context, accountID string) (string, error) {
	params := &stripe.LoginLinkParams{Account: stripe.String(accountID)}
	params.Context = ctx

	link, err := c.api.LoginLinks.New(params)
	if err != nil {
		return "", classify(err)
	}
	return link.URL, nil
}

// GetAccount fetches a connected account's capability snapshot.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*seller.AccountSnapshot, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := c.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return nil, classify(err)
	}
	return SnapshotFromAccount(acct), nil
}

// SnapshotFromAccount converts a Stripe account object into the seller
// package's snapshot. Exported so the webhook handler can reuse it for
// account.updated payloads.
func SnapshotFromAccount(acct *stripe.Account) *seller.AccountSnapshot {
	snap := &seller.AccountSnapshot{
		AccountID:        acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
		Country:          acct.Country,
		DefaultCurrency:  strings.ToUpper(string(acct.DefaultCurrency)),
	}
	if acct.Requirements != nil {
		snap.DisabledReason = string(acct.Requirements.DisabledReason)
	}
	return snap
}

// GetBalance fetches a connected account's balance.
func (c *Client) GetBalance(ctx context.Context, accountID string) (*seller.Balance, error) {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	bal, err := c.api.Balance.Get(params)
	if err != nil {
		return nil, classify(err)
	}

	b := &seller.Balance{}
	for _, a := range bal.Available {
		b.AvailableCents += a.Amount
		b.Currency = strings.ToUpper(string(a.Currency))
	}
	for _, p := range bal.Pending {
		b.PendingCents += p.Amount
	}
	return b, nil
}

// SetPayoutSchedule applies a daily payout schedule with the given delay.
func (c *Client) SetPayoutSchedule(ctx context.Context, accountID string, delayDays int) error {
	params := &stripe.AccountParams{
		Settings: &stripe.AccountSettingsParams{
			Payouts: &stripe.AccountSettingsPayoutsParams{
				Schedule: &stripe.AccountSettingsPayoutsScheduleParams{
					DelayDays: stripe.Int64(int64(delayDays)),
					Interval:  stripe.String("daily"),
				},
			},
		},
	}
	params.Context = ctx

	_, err := c.api.Accounts.Update(accountID, params)
	return classify(err)
}

// VerifyEvent checks a webhook payload's signature and freshness and
// returns the parsed event.
func (c *Client) VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.webhookSecret,
		webhook.ConstructEventOptions{Tolerance: c.tolerance})
}

// Compile-time assertions that Client implements both gateway interfaces.
var (
	_ payments.Gateway      = (*Client)(nil)
	_ seller.ConnectGateway = (*Client)(nil)
)
