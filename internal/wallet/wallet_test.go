package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindkart/kindkart/internal/auth"
	"github.com/kindkart/kindkart/internal/ledger"
	"github.com/kindkart/kindkart/internal/requests"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func record(id, payer, payee, amount string, status ledger.TxStatus, hold *ledger.EscrowHold) *ledger.Record {
	return &ledger.Record{
		Transaction: &ledger.Transaction{
			ID: id, RequestID: "req_" + id, PayerID: payer, PayeeID: payee,
			Amount: decimal.RequireFromString(amount), Currency: "INR", Status: status,
			CreatedAt: t0,
		},
		Hold: hold,
	}
}

func hold(status ledger.HoldStatus, release time.Time) *ledger.EscrowHold {
	return &ledger.EscrowHold{Status: status, ReleaseTime: release, CreatedAt: t0}
}

func TestCalculate_Buckets(t *testing.T) {
	records := []*ledger.Record{
		record("a", "req", "help", "500", ledger.TxCompleted, hold(ledger.HoldHeld, t0.Add(20*time.Minute))),
		record("b", "req", "help", "200", ledger.TxCompleted, hold(ledger.HoldReleased, t0.Add(20*time.Minute))),
		record("c", "req", "help", "75.50", ledger.TxCompleted, hold(ledger.HoldDisputed, t0.Add(20*time.Minute))),
		record("d", "req", "help", "1000", ledger.TxPending, nil),
		record("e", "req", "help", "300", ledger.TxFailed, nil),
		record("f", "help", "other", "40", ledger.TxCompleted, hold(ledger.HoldHeld, t0.Add(20*time.Minute))),
	}

	w := Calculate("help", "INR", records, t0.Add(5*time.Minute))

	assert.True(t, w.PendingAmount.Equal(decimal.RequireFromString("500")), "pending %s", w.PendingAmount)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("200")), "balance %s", w.Balance)
	assert.True(t, w.DisputedAmount.Equal(decimal.RequireFromString("75.50")))
	assert.True(t, w.TotalEarned.Equal(decimal.RequireFromString("775.50")))
	assert.True(t, w.TotalSpent.Equal(decimal.RequireFromString("40")))
	assert.True(t, w.TotalEarned.Equal(w.Balance.Add(w.PendingAmount).Add(w.DisputedAmount)))
}

func TestCalculate_ExpiryIsRelease(t *testing.T) {
	release := t0.Add(20 * time.Minute)
	records := []*ledger.Record{
		record("a", "req", "help", "500", ledger.TxCompleted, hold(ledger.HoldHeld, release)),
	}

	before := Calculate("help", "INR", records, release.Add(-time.Nanosecond))
	assert.True(t, before.PendingAmount.Equal(decimal.NewFromInt(500)))
	assert.True(t, before.Balance.IsZero())

	at := Calculate("help", "INR", records, release)
	assert.True(t, at.PendingAmount.IsZero(), "hold is no longer active at exactly the release time")
	assert.True(t, at.Balance.Equal(decimal.NewFromInt(500)))
}

func TestCalculate_IdentityHoldsAcrossTime(t *testing.T) {
	var records []*ledger.Record
	for i, st := range []ledger.HoldStatus{ledger.HoldHeld, ledger.HoldReleased, ledger.HoldDisputed, ledger.HoldHeld} {
		records = append(records, record(string(rune('a'+i)), "req", "help", "10.25", ledger.TxCompleted,
			hold(st, t0.Add(time.Duration(i+1)*10*time.Minute))))
	}
	for m := 0; m <= 60; m += 5 {
		w := Calculate("help", "INR", records, t0.Add(time.Duration(m)*time.Minute))
		require.True(t, w.TotalEarned.Equal(w.Balance.Add(w.PendingAmount).Add(w.DisputedAmount)), "minute %d", m)
	}
}

func TestWallet_MarshalJSON(t *testing.T) {
	w := Calculate("help", "INR", []*ledger.Record{
		record("a", "req", "help", "500", ledger.TxCompleted, hold(ledger.HoldHeld, t0.Add(time.Hour))),
	}, t0)
	raw, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":"help","currency":"INR","balance":"0.00","pendingAmount":"500.00",
		"disputedAmount":"0.00","totalEarned":"500.00","totalSpent":"0.00"}`, string(raw))
}

func seededService(t *testing.T) *Service {
	t.Helper()
	reqs := requests.NewMemoryStore()
	reqs.Put(&requests.HelpRequest{ID: "req_1", RequesterID: "usr_req", HelperID: "usr_help", Status: requests.StatusAssigned, CreatedAt: t0})
	store := ledger.NewMemoryStore(reqs)
	ctx := context.Background()

	tx := &ledger.Transaction{ID: "txn_1", RequestID: "req_1", PayerID: "usr_req", PayeeID: "usr_help",
		Amount: decimal.NewFromInt(500), Currency: "INR", Status: ledger.TxPending, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, store.Reserve(ctx, tx, t0.Add(-24*time.Hour)))
	_, err := store.Capture(ctx, "txn_1", "pay_1", &ledger.EscrowHold{ID: "esc_1", TransactionID: "txn_1",
		ReleaseTime: t0.Add(20 * time.Minute), Status: ledger.HoldHeld, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)

	return NewService(store, "INR").WithClock(func() time.Time { return t0.Add(time.Minute) })
}

func TestService_GetWallet(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	w, err := svc.GetWallet(ctx, "usr_help", "usr_help")
	require.NoError(t, err)
	assert.True(t, w.PendingAmount.Equal(decimal.NewFromInt(500)))

	payer, err := svc.GetWallet(ctx, "usr_req", "usr_req")
	require.NoError(t, err)
	assert.True(t, payer.TotalSpent.Equal(decimal.NewFromInt(500)))

	_, err = svc.GetWallet(ctx, "usr_help", "usr_req")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestHandler_GetWallet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const secret = "wallet-secret"
	v, err := auth.NewVerifier(secret)
	require.NoError(t, err)

	r := gin.New()
	NewHandler(seededService(t)).RegisterRoutes(r.Group("/v1", auth.RequireAuth(v)))

	get := func(userID, caller string) *httptest.ResponseRecorder {
		token, _ := auth.Issue(secret, caller, "", time.Hour)
		req := httptest.NewRequest(http.MethodGet, "/v1/payments/wallet/"+userID, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := get("usr_help", "usr_help")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pendingAmount":"500.00"`)

	w = get("usr_help", "usr_req")
	require.Equal(t, http.StatusForbidden, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"error":"forbidden"`)
	for _, field := range []string{"balance", "pendingAmount", "totalEarned", "500"} {
		assert.False(t, strings.Contains(body, field), "forbidden response leaked %q", field)
	}
}
