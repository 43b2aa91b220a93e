// Package seller manages marketplace sellers and their connected payment
// accounts.
//
// A seller can list stubs immediately, but cannot be paid until their
// connected account finishes onboarding: charges and payouts enabled,
// details submitted, and no disabled reason outstanding. Eligibility is
// checked against the locally cached account
// flags; RefreshStatus pulls a fresh snapshot from the gateway (the
// account.updated webhook does the same push-side).
package seller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stubcollector/stubmarket/internal/idgen"
)

var (
	ErrSellerNotFound = errors.New("seller: not found")
	ErrNoAccount      = errors.New("seller: no connected account")
	ErrNotEligible    = errors.New("seller: account cannot accept payments yet")
)

// payoutMinimumDays holds the country-specific minimum payout delay the
// gateway enforces. Anything not listed gets the default.
var payoutMinimumDays = map[string]int{
	"US": 2,
	"CA": 2,
	"GB": 2,
	"AU": 3,
}

const defaultPayoutMinimumDays = 1

// PayoutDelayDays returns the payout schedule delay for a country, never
// below the gateway's per-country minimum.
func PayoutDelayDays(country string, configuredHold int) int {
	min, ok := payoutMinimumDays[strings.ToUpper(country)]
	if !ok {
		min = defaultPayoutMinimumDays
	}
	if configuredHold > min {
		return configuredHold
	}
	return min
}

// Seller represents a marketplace seller and the cached state of their
// connected account.
type Seller struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Country          string     `json:"country"`
	AccountID        string     `json:"account_id,omitempty"` // Connected account at the gateway
	ChargesEnabled   bool       `json:"charges_enabled"`
	PayoutsEnabled   bool       `json:"payouts_enabled"`
	DetailsSubmitted bool       `json:"details_submitted"`
	DefaultCurrency  string     `json:"default_currency,omitempty"`
	DisabledReason   string     `json:"disabled_reason,omitempty"`
	OnboardedAt      *time.Time `json:"onboarded_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// PaymentCapable reports whether the seller's connected account can
// receive direct charges. Payouts must be enabled too: routing a charge
// to an account that cannot pay out strands the seller's share.
func (s *Seller) PaymentCapable() bool {
	return s.AccountID != "" &&
		s.ChargesEnabled &&
		s.PayoutsEnabled &&
		s.DetailsSubmitted &&
		s.DisabledReason == ""
}

// EligibilityReasons lists what still blocks the seller from being paid.
// Empty means eligible.
func (s *Seller) EligibilityReasons() []string {
	var reasons []string
	if s.AccountID == "" {
		return []string{"no connected account"}
	}
	if !s.DetailsSubmitted {
		reasons = append(reasons, "onboarding details not submitted")
	}
	if !s.ChargesEnabled {
		reasons = append(reasons, "charges not enabled")
	}
	if !s.PayoutsEnabled {
		reasons = append(reasons, "payouts not enabled")
	}
	if s.DisabledReason != "" {
		reasons = append(reasons, "account disabled: "+s.DisabledReason)
	}
	return reasons
}

// AccountSnapshot is the gateway's view of a connected account.
type AccountSnapshot struct {
	AccountID        string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
	Country          string
	DefaultCurrency  string
	DisabledReason   string
}

// Balance is a connected account's available and pending funds.
type Balance struct {
	AvailableCents int64  `json:"available_cents"`
	PendingCents   int64  `json:"pending_cents"`
	Currency       string `json:"currency"`
}

// ConnectGateway is the subset of the payment gateway the seller package
// needs: express account lifecycle and hosted links.
type ConnectGateway interface {
	CreateExpressAccount(ctx context.Context, email, country string) (accountID string, err error)
	AccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (url string, err error)
	DashboardLink(ctx context.Context, accountID string) (url string, err error)
	GetAccount(ctx context.Context, accountID string) (*AccountSnapshot, error)
	GetBalance(ctx context.Context, accountID string) (*Balance, error)
	SetPayoutSchedule(ctx context.Context, accountID string, delayDays int) error
}

// Store persists sellers.
type Store interface {
	Create(ctx context.Context, s *Seller) error
	Get(ctx context.Context, id string) (*Seller, error)
	GetByAccountID(ctx context.Context, accountID string) (*Seller, error)
	Update(ctx context.Context, s *Seller) error
}

// RegisterRequest contains the parameters for registering a seller.
type RegisterRequest struct {
	Email   string `json:"email" binding:"required"`
	Country string `json:"country"`
}

// Service implements seller business logic.
type Service struct {
	store          Store
	gateway        ConnectGateway
	baseURL        string
	payoutHoldDays int
}

// NewService creates a new seller service. baseURL is used to build
// onboarding return/refresh URLs; payoutHoldDays is the platform's payout
// delay (raised to the country minimum where needed).
func NewService(store Store, gateway ConnectGateway, baseURL string, payoutHoldDays int) *Service {
	return &Service{
		store:          store,
		gateway:        gateway,
		baseURL:        baseURL,
		payoutHoldDays: payoutHoldDays,
	}
}

// Register creates a seller record and its express account at the gateway,
// then applies the payout schedule.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Seller, error) {
	country := strings.ToUpper(req.Country)
	if country == "" {
		country = "US"
	}

	accountID, err := s.gateway.CreateExpressAccount(ctx, req.Email, country)
	if err != nil {
		return nil, fmt.Errorf("failed to create connected account: %w", err)
	}

	if err := s.gateway.SetPayoutSchedule(ctx, accountID, PayoutDelayDays(country, s.payoutHoldDays)); err != nil {
		return nil, fmt.Errorf("failed to set payout schedule: %w", err)
	}

	now := time.Now()
	sl := &Seller{
		ID:        idgen.WithPrefix(idgen.User),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Country:   country,
		AccountID: accountID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, sl); err != nil {
		return nil, fmt.Errorf("failed to create seller record: %w", err)
	}
	return sl, nil
}

// Get returns a seller by ID.
func (s *Service) Get(ctx context.Context, id string) (*Seller, error) {
	return s.store.Get(ctx, id)
}

// GetByAccountID returns the seller owning a connected account.
func (s *Service) GetByAccountID(ctx context.Context, accountID string) (*Seller, error) {
	return s.store.GetByAccountID(ctx, accountID)
}

// OnboardingLink returns a fresh hosted onboarding URL for the seller.
func (s *Service) OnboardingLink(ctx context.Context, id string) (string, error) {
	sl, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if sl.AccountID == "" {
		return "", ErrNoAccount
	}
	return s.gateway.AccountLink(ctx, sl.AccountID,
		s.baseURL+"/v1/sellers/"+sl.ID+"/onboarding/refresh",
		s.baseURL+"/v1/sellers/"+sl.ID+"/onboarding/return",
	)
}

// DashboardLink returns a one-time login URL for the seller's express
// dashboard.
func (s *Service) DashboardLink(ctx context.Context, id string) (string, error) {
	sl, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if sl.AccountID == "" {
		return "", ErrNoAccount
	}
	return s.gateway.DashboardLink(ctx, sl.AccountID)
}

// GetBalance returns the seller's connected account balance.
func (s *Service) GetBalance(ctx context.Context, id string) (*Balance, error) {
	sl, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sl.AccountID == "" {
		return nil, ErrNoAccount
	}
	return s.gateway.GetBalance(ctx, sl.AccountID)
}

// RefreshStatus pulls the account snapshot from the gateway and updates
// the seller's cached capability flags. Returns the updated seller.
func (s *Service) RefreshStatus(ctx context.Context, id string) (*Seller, error) {
	sl, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sl.AccountID == "" {
		return nil, ErrNoAccount
	}

	snap, err := s.gateway.GetAccount(ctx, sl.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account status: %w", err)
	}
	return s.applySnapshot(ctx, sl, snap)
}

// ApplySnapshot updates a seller's cached flags from a gateway snapshot.
// The webhook handler feeds account.updated events through here.
func (s *Service) ApplySnapshot(ctx context.Context, accountID string, snap *AccountSnapshot) (*Seller, error) {
	sl, err := s.store.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.applySnapshot(ctx, sl, snap)
}

func (s *Service) applySnapshot(ctx context.Context, sl *Seller, snap *AccountSnapshot) (*Seller, error) {
	wasCapable := sl.PaymentCapable()

	sl.ChargesEnabled = snap.ChargesEnabled
	sl.PayoutsEnabled = snap.PayoutsEnabled
	sl.DetailsSubmitted = snap.DetailsSubmitted
	sl.DisabledReason = snap.DisabledReason
	if snap.DefaultCurrency != "" {
		sl.DefaultCurrency = strings.ToUpper(snap.DefaultCurrency)
	}
	if snap.Country != "" {
		sl.Country = strings.ToUpper(snap.Country)
	}
	if !wasCapable && sl.PaymentCapable() && sl.OnboardedAt == nil {
		now := time.Now()
		sl.OnboardedAt = &now
	}
	sl.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, sl); err != nil {
		return nil, err
	}
	return sl, nil
}

// RequireEligible returns the seller if their account can accept payments,
// or ErrNotEligible with the blocking reasons.
func (s *Service) RequireEligible(ctx context.Context, id string) (*Seller, error) {
	sl, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sl.PaymentCapable() {
		return nil, fmt.Errorf("%w: %s", ErrNotEligible, strings.Join(sl.EligibilityReasons(), "; "))
	}
	return sl, nil
}
