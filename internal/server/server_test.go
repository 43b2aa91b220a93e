package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"

	"github.com/stubcollector/stubmarket/internal/config"
	"github.com/stubcollector/stubmarket/internal/payments"
	"github.com/stubcollector/stubmarket/internal/seller"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockBackend implements Backend for testing
type mockBackend struct{}

func (m *mockBackend) CreateIntent(ctx context.Context, req payments.CreateIntentRequest) (*payments.Intent, error) {
	return &payments.Intent{
		ID:           "pi_mock",
		Status:       "requires_payment_method",
		ClientSecret: "pi_mock_secret",
	}, nil
}

func (m *mockBackend) GetIntent(ctx context.Context, intentID string) (*payments.Intent, error) {
	return &payments.Intent{ID: intentID, Status: "succeeded", ChargeID: "ch_mock"}, nil
}

func (m *mockBackend) CreateRefund(ctx context.Context, req payments.RefundRequest) (*payments.Refund, error) {
	return &payments.Refund{ID: "re_mock", Status: "succeeded"}, nil
}

func (m *mockBackend) CreateExpressAccount(ctx context.Context, email, country string) (string, error) {
	return "acct_mock", nil
}

func (m *mockBackend) AccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	return "https://connect.example.com/onboard", nil
}

func (m *mockBackend) DashboardLink(ctx context.Context, accountID string) (string, error) {
	return "https://connect.example.com/dashboard", nil
}

func (m *mockBackend) GetAccount(ctx context.Context, accountID string) (*seller.AccountSnapshot, error) {
	return &seller.AccountSnapshot{
		AccountID:        accountID,
		ChargesEnabled:   true,
		PayoutsEnabled:   true,
		DetailsSubmitted: true,
		Country:          "US",
	}, nil
}

func (m *mockBackend) GetBalance(ctx context.Context, accountID string) (*seller.Balance, error) {
	return &seller.Balance{AvailableCents: 10_000, Currency: "USD"}, nil
}

func (m *mockBackend) SetPayoutSchedule(ctx context.Context, accountID string, delayDays int) error {
	return nil
}

func (m *mockBackend) VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return stripe.Event{}, err
	}
	return event, nil
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		LogLevel:             "error",
		StripeSecretKey:      "sk_test_mock",
		StripeWebhookSecret:  "whsec_mock",
		PlatformBaseURL:      "http://localhost:8080",
		PlatformFeePercent:   0.10,
		PayoutHoldDays:       7,
		EnableLiabilityShift: true,
		Currency:             "USD",
		ReservationTTL:       15 * time.Minute,
		StaleOrderAfter:      15 * time.Minute,
		WebhookTolerance:     5 * time.Minute,
		RateLimitPerMinute:   1000,
	}
}

// newTestServer creates a server with mock dependencies
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithBackend(&mockBackend{}))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/metrics",
		"GET:/v1/listings",
		"GET:/v1/listings/:id",
		"POST:/v1/listings",
		"DELETE:/v1/listings/:id",
		"POST:/v1/purchases",
		"GET:/v1/orders/:id",
		"POST:/v1/orders/:id/complete",
		"POST:/v1/orders/:id/cancel",
		"POST:/v1/sellers",
		"GET:/v1/sellers/:id/balance",
		"POST:/v1/webhooks/stripe",
		"POST:/v1/admin/orders/:id/refund",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// End-to-end listing flow (in-memory storage)
// ---------------------------------------------------------------------------

func TestCreateAndFetchListing(t *testing.T) {
	s := newTestServer(t)

	body := `{"title":"World Series 1986 Game 6","event_name":"World Series","price_cents":5000,"currency":"USD"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/listings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "usr_aaaaaaaaaaaaaaaaaaaaaaaa")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Listing struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"listing"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if created.Listing.ID == "" {
		t.Fatal("Expected listing ID in response")
	}
	if created.Listing.Status != "active" {
		t.Errorf("Expected status 'active', got %q", created.Listing.Status)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/listings/"+created.Listing.ID, nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 fetching listing, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Admin auth
// ---------------------------------------------------------------------------

func TestAdminRefundRequiresSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AdminSecret = "topsecret"

	s, err := New(cfg, WithBackend(&mockBackend{}))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/admin/orders/ord_aaaaaaaaaaaaaaaaaaaaaaaa/refund", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without secret, got %d", w.Code)
	}

	// With the right secret the request passes auth (404: no such order).
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/admin/orders/ord_aaaaaaaaaaaaaaaaaaaaaaaa/refund", nil)
	req.Header.Set("X-Admin-Secret", "topsecret")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with secret, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
