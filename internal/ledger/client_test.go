package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/ledger/internal/domain"
)

type fakeServer struct {
	logins     atomic.Int32
	saleCalls  atomic.Int32
	saleStatus int
	voidStatus int

	// tokens issued before this login count are treated as expired
	expireBefore atomic.Int32
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req domain.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid credentials"})
			return
		}
		n := f.logins.Add(1)
		writeTestJSON(w, http.StatusOK, domain.LoginResponse{AccessToken: fmt.Sprintf("token-%d", n), Role: "cashier"})
	})
	mux.HandleFunc("/api/v1/sales", func(w http.ResponseWriter, r *http.Request) {
		f.saleCalls.Add(1)
		if !f.authorized(r) {
			writeTestJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid or expired token"})
			return
		}
		if f.saleStatus != 0 && f.saleStatus != http.StatusOK {
			writeTestJSON(w, f.saleStatus, map[string]any{"error": "nope"})
			return
		}
		var payload domain.SalePayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		writeTestJSON(w, http.StatusOK, domain.CommitResult{Sale: domain.CommittedSale{
			ID:          "sale-1",
			Reference:   payload.Reference,
			TotalAmount: payload.TotalAmount,
			Status:      domain.SaleStatusCompleted,
		}})
	})
	mux.HandleFunc("/api/v1/sales/sale-1/void", func(w http.ResponseWriter, r *http.Request) {
		if f.voidStatus != 0 {
			writeTestJSON(w, f.voidStatus, map[string]any{"error": "void refused"})
			return
		}
		writeTestJSON(w, http.StatusOK, domain.VoidResult{Sale: domain.CommittedSale{ID: "sale-1", Status: domain.SaleStatusVoided}})
	})
	return mux
}

func (f *fakeServer) authorized(r *http.Request) bool {
	var n int32
	if _, err := fmt.Sscanf(r.Header.Get("Authorization"), "Bearer token-%d", &n); err != nil {
		return false
	}
	return n >= f.expireBefore.Load()
}

func writeTestJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newTestClient(t *testing.T, f *fakeServer) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewHTTPClient(ClientConfig{BaseURL: srv.URL, Username: "terminal", Password: "secret", Timeout: 2 * time.Second}), srv
}

func testPayload() domain.SalePayload {
	return domain.SalePayload{
		Reference:     uuid.NewString(),
		BusinessID:    "main-business",
		TotalAmount:   decimal.RequireFromString("116.00"),
		TaxAmount:     decimal.RequireFromString("16.00"),
		PaymentMethod: domain.PaymentCash,
		LineItems:     []domain.LineItem{{ProductID: "p1", UnitPrice: decimal.RequireFromString("116.00"), Quantity: 1, TaxClass: domain.TaxStandard}},
	}
}

func TestCommitSaleLogsInOnce(t *testing.T) {
	f := &fakeServer{}
	client, _ := newTestClient(t, f)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		payload := testPayload()
		result, err := client.CommitSale(ctx, payload)
		require.NoError(t, err)
		assert.Equal(t, payload.Reference, result.Sale.Reference)
		assert.True(t, result.Sale.TotalAmount.Equal(payload.TotalAmount))
	}
	assert.EqualValues(t, 1, f.logins.Load())

	role, err := client.Role(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cashier", role)
	assert.EqualValues(t, 1, f.logins.Load())
}

func TestCommitSaleRefreshesExpiredToken(t *testing.T) {
	f := &fakeServer{}
	client, _ := newTestClient(t, f)
	ctx := context.Background()

	_, err := client.CommitSale(ctx, testPayload())
	require.NoError(t, err)

	f.expireBefore.Store(2)
	_, err = client.CommitSale(ctx, testPayload())
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.logins.Load())
}

func TestCommitSaleClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusServiceUnavailable, ErrTransient},
		{http.StatusTooManyRequests, ErrTransient},
		{http.StatusUnprocessableEntity, ErrRejected},
		{http.StatusConflict, ErrRejected},
		{http.StatusBadRequest, ErrRejected},
		{http.StatusForbidden, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			client, _ := newTestClient(t, &fakeServer{saleStatus: tc.status})
			_, err := client.CommitSale(context.Background(), testPayload())
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestVoidSaleConflict(t *testing.T) {
	client, _ := newTestClient(t, &fakeServer{voidStatus: http.StatusConflict})
	_, err := client.VoidSale(context.Background(), "sale-1", "wrong item")
	assert.ErrorIs(t, err, ErrVoidConflict)
}

func TestVoidSaleSuccess(t *testing.T) {
	client, _ := newTestClient(t, &fakeServer{})
	result, err := client.VoidSale(context.Background(), "sale-1", "wrong item")
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusVoided, result.Sale.Status)
}

func TestUnreachableLedgerIsTransient(t *testing.T) {
	client, srv := newTestClient(t, &fakeServer{})
	srv.Close()

	_, err := client.CommitSale(context.Background(), testPayload())
	assert.True(t, IsTransient(err), "expected transient, got %v", err)
	assert.True(t, IsTransient(client.Ping(context.Background())))
}

func TestBadCredentialsAreForbidden(t *testing.T) {
	srv := httptest.NewServer((&fakeServer{}).handler())
	t.Cleanup(srv.Close)
	client := NewHTTPClient(ClientConfig{BaseURL: srv.URL, Username: "terminal", Password: "wrong"})

	_, err := client.CommitSale(context.Background(), testPayload())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	f := &fakeServer{saleStatus: http.StatusBadGateway}
	client, _ := newTestClient(t, f)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := client.CommitSale(ctx, testPayload())
		require.ErrorIs(t, err, ErrTransient)
	}
	calls := f.saleCalls.Load()

	_, err := client.CommitSale(ctx, testPayload())
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, calls, f.saleCalls.Load(), "open breaker should not reach the server")
}

func TestClassifyKeepsTaxonomy(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ErrRejected)
	assert.Same(t, wrapped, Classify(wrapped))
	assert.ErrorIs(t, Classify(errors.New("connection reset")), ErrTransient)
	assert.ErrorIs(t, Classify(context.DeadlineExceeded), ErrTransient)
	assert.NoError(t, Classify(nil))
}
