package escrow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindkart/kindkart/internal/community"
	"github.com/kindkart/kindkart/internal/events"
	"github.com/kindkart/kindkart/internal/gateway"
	"github.com/kindkart/kindkart/internal/ledger"
	"github.com/kindkart/kindkart/internal/metrics"
	"github.com/kindkart/kindkart/internal/reputation"
	"github.com/kindkart/kindkart/internal/requests"
	"github.com/kindkart/kindkart/internal/wallet"
)

const (
	requester = "usr_requester"
	helper    = "usr_helper"
	stranger  = "usr_stranger"
	secret    = "gateway-test-secret"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type settlementSpy struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *settlementSpy) RecordSettlement(_ context.Context, tx *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, tx.ID)
	return s.err
}

type eventSpy struct {
	mu     sync.Mutex
	events []*events.Event
}

func (e *eventSpy) Publish(_ context.Context, ev *events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *eventSpy) types() []events.Type {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Type
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

type downGateway struct{ calls atomic.Int32 }

func (d *downGateway) Name() string { return "down" }

func (d *downGateway) CreateOrder(context.Context, gateway.OrderRequest) (*gateway.Order, error) {
	d.calls.Add(1)
	return nil, gateway.ErrGatewayUnavailable
}

type fixture struct {
	svc        *Service
	ledger     *ledger.MemoryStore
	reqs       *requests.MemoryStore
	verifier   *gateway.Verifier
	clock      *clock
	settlement *settlementSpy
	events     *eventSpy
}

func newFixture(t *testing.T, gw gateway.Gateway) *fixture {
	t.Helper()
	if gw == nil {
		gw = gateway.NewSandbox()
	}
	reqs := requests.NewMemoryStore()
	reqs.Put(&requests.HelpRequest{
		ID: "req_groceries", Title: "Pick up groceries", RequesterID: requester, HelperID: helper,
		Status: requests.StatusAssigned, CreatedAt: t0.Add(-time.Hour),
	})
	reqs.Put(&requests.HelpRequest{
		ID: "req_open", Title: "Walk the dog", RequesterID: requester,
		Status: requests.StatusOpen, CreatedAt: t0.Add(-time.Hour),
	})

	f := &fixture{
		ledger:     ledger.NewMemoryStore(reqs),
		reqs:       reqs,
		verifier:   gateway.NewVerifier(secret),
		clock:      &clock{now: t0},
		settlement: &settlementSpy{},
		events:     &eventSpy{},
	}
	f.svc = NewService(f.ledger, reqs, gw, f.verifier).
		WithClock(f.clock.Now).
		WithSettlementRecorder(f.settlement).
		WithPublisher(f.events)
	return f
}

func (f *fixture) open(t *testing.T, amount string) *OpenOrderResult {
	t.Helper()
	res, err := f.svc.OpenOrder(context.Background(), OpenOrderRequest{
		RequestID: "req_groceries", Amount: decimal.RequireFromString(amount),
		Currency: "INR", PayerID: requester, PayeeID: helper,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) capture(t *testing.T, orderID string) *CaptureResult {
	t.Helper()
	res, err := f.svc.VerifyAndCapture(context.Background(), VerifyRequest{
		OrderID: orderID, PaymentID: "pay_" + orderID,
		Signature: f.verifier.Sign(orderID, "pay_"+orderID), CallerID: requester,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) wallet(t *testing.T, userID string) *wallet.Wallet {
	t.Helper()
	w, err := wallet.NewService(f.ledger, "INR").WithClock(f.clock.Now).GetWallet(context.Background(), userID, userID)
	require.NoError(t, err)
	return w
}

func (f *fixture) requestStatus(t *testing.T) requests.Status {
	t.Helper()
	hr, err := f.reqs.Get(context.Background(), "req_groceries")
	require.NoError(t, err)
	return hr.Status
}

func TestOpenOrder_CreatesPendingTransactionWithOrder(t *testing.T) {
	f := newFixture(t, nil)

	res := f.open(t, "500")

	assert.Equal(t, int64(50000), res.Order.Amount, "gateway receives minor units")
	assert.Equal(t, "INR", res.Order.Currency)
	assert.Equal(t, "req_groceries", res.Order.Notes["requestId"])
	assert.Equal(t, ledger.TxPending, res.Transaction.Status)
	assert.Equal(t, res.Order.ID, res.Transaction.GatewayRef)

	stored, err := f.ledger.Get(context.Background(), res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, stored.GatewayRef)
	assert.True(t, stored.Amount.Equal(decimal.NewFromInt(500)))
}

func TestOpenOrder_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  OpenOrderRequest
		want error
	}{
		{"zero amount", OpenOrderRequest{RequestID: "req_groceries", Amount: decimal.Zero, Currency: "INR", PayerID: requester, PayeeID: helper}, ErrValidation},
		{"sub-paise amount", OpenOrderRequest{RequestID: "req_groceries", Amount: decimal.RequireFromString("10.005"), Currency: "INR", PayerID: requester, PayeeID: helper}, ErrValidation},
		{"other currency", OpenOrderRequest{RequestID: "req_groceries", Amount: decimal.NewFromInt(5), Currency: "USD", PayerID: requester, PayeeID: helper}, ErrValidation},
		{"missing payee", OpenOrderRequest{RequestID: "req_groceries", Amount: decimal.NewFromInt(5), Currency: "INR", PayerID: requester}, ErrValidation},
		{"unknown request", OpenOrderRequest{RequestID: "req_nope", Amount: decimal.NewFromInt(5), Currency: "INR", PayerID: requester, PayeeID: helper}, ErrRequestNotFound},
		{"not the requester", OpenOrderRequest{RequestID: "req_groceries", Amount: decimal.NewFromInt(5), Currency: "INR", PayerID: stranger, PayeeID: helper}, ErrForbidden},
		{"wrong helper", OpenOrderRequest{RequestID: "req_groceries", Amount: decimal.NewFromInt(5), Currency: "INR", PayerID: requester, PayeeID: stranger}, ErrInvalidAssignment},
		{"no helper assigned", OpenOrderRequest{RequestID: "req_open", Amount: decimal.NewFromInt(5), Currency: "INR", PayerID: requester, PayeeID: helper}, ErrInvalidAssignment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			_, err := f.svc.OpenOrder(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)

			txs, _ := f.ledger.ListByUser(context.Background(), requester, 0, nil)
			assert.Empty(t, txs, "rejected orders leave no transaction")
		})
	}
}

func TestOpenOrder_DuplicatePayment(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, "500")

	_, err := f.svc.OpenOrder(context.Background(), OpenOrderRequest{
		RequestID: "req_groceries", Amount: decimal.NewFromInt(500), Currency: "INR", PayerID: requester, PayeeID: helper,
	})
	assert.ErrorIs(t, err, ErrDuplicatePayment)
}

func TestOpenOrder_ConcurrentCallsCreateOneTransaction(t *testing.T) {
	f := newFixture(t, nil)

	const n = 16
	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.OpenOrder(context.Background(), OpenOrderRequest{
				RequestID: "req_groceries", Amount: decimal.NewFromInt(500), Currency: "INR", PayerID: requester, PayeeID: helper,
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrDuplicatePayment):
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), dup.Load())
	txs, err := f.ledger.ListByUser(context.Background(), requester, 0, nil)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestOpenOrder_GatewayDownFailsTransactionAndAllowsRetry(t *testing.T) {
	down := &downGateway{}
	f := newFixture(t, down)

	_, err := f.svc.OpenOrder(context.Background(), OpenOrderRequest{
		RequestID: "req_groceries", Amount: decimal.NewFromInt(500), Currency: "INR", PayerID: requester, PayeeID: helper,
	})
	require.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
	assert.Equal(t, int32(1), down.calls.Load(), "not retried within the request")

	txs, _ := f.ledger.ListByUser(context.Background(), requester, 0, nil)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxFailed, txs[0].Transaction.Status)

	f.svc.gateway = gateway.NewSandbox()
	f.open(t, "500")
}

func TestOpenOrder_StalePendingDoesNotBlockForever(t *testing.T) {
	f := newFixture(t, nil)
	first := f.open(t, "500")

	f.clock.Advance(f.svc.pendingTTL + time.Minute)
	second := f.open(t, "500")

	assert.NotEqual(t, first.Transaction.ID, second.Transaction.ID)
	old, err := f.ledger.Get(context.Background(), first.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TxCancelled, old.Status)
}

func TestVerifyAndCapture_OpensHoldForExactWindow(t *testing.T) {
	f := newFixture(t, nil)
	order := f.open(t, "500")
	f.clock.Advance(3 * time.Minute)

	res := f.capture(t, order.Order.ID)

	assert.Equal(t, ledger.TxCompleted, res.Transaction.Status)
	assert.Equal(t, "pay_"+order.Order.ID, res.Transaction.GatewayRef)
	assert.Equal(t, ledger.HoldHeld, res.EscrowHold.Status)
	assert.Equal(t, t0.Add(3*time.Minute).Add(20*time.Minute), res.EscrowHold.ReleaseTime)
	assert.Equal(t, requests.StatusInProgress, f.requestStatus(t))
	assert.Contains(t, f.events.types(), events.PaymentCaptured)
}

func TestVerifyAndCapture_TamperedSignatureChangesNothing(t *testing.T) {
	f := newFixture(t, nil)
	order := f.open(t, "500")
	before := testutil.ToFloat64(metrics.SignatureFailuresTotal)

	sig := f.verifier.Sign(order.Order.ID, "pay_1")
	tampered := []byte(sig)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}

	_, err := f.svc.VerifyAndCapture(context.Background(), VerifyRequest{
		OrderID: order.Order.ID, PaymentID: "pay_1", Signature: string(tampered), CallerID: requester,
	})
	require.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SignatureFailuresTotal))

	tx, _ := f.ledger.Get(context.Background(), order.Transaction.ID)
	assert.Equal(t, ledger.TxPending, tx.Status)
	_, err = f.ledger.GetHold(context.Background(), order.Transaction.ID)
	assert.ErrorIs(t, err, ledger.ErrHoldNotFound)
	assert.Equal(t, requests.StatusAssigned, f.requestStatus(t))
}

func TestVerifyAndCapture_OnlyPayerAndOnlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	order := f.open(t, "500")
	sig := f.verifier.Sign(order.Order.ID, "pay_1")

	_, err := f.svc.VerifyAndCapture(context.Background(), VerifyRequest{
		OrderID: order.Order.ID, PaymentID: "pay_1", Signature: sig, CallerID: helper,
	})
	assert.ErrorIs(t, err, ErrTransactionNotFound, "payee cannot capture the payer's order")

	f.capture(t, order.Order.ID)
	_, err = f.svc.VerifyAndCapture(context.Background(), VerifyRequest{
		OrderID: order.Order.ID, PaymentID: "pay_" + order.Order.ID,
		Signature: f.verifier.Sign(order.Order.ID, "pay_"+order.Order.ID), CallerID: requester,
	})
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestVerifyAndCapture_MissingFields(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.VerifyAndCapture(context.Background(), VerifyRequest{OrderID: "order_1", CallerID: requester})
	assert.ErrorIs(t, err, ErrValidation)
}

// Requester pays 500 INR, helper sees it pending, requester releases after
// ten minutes, and the helper's balance shows 500.
func TestEscrow_ReleaseScenario(t *testing.T) {
	f := newFixture(t, nil)
	order := f.open(t, "500")
	f.capture(t, order.Order.ID)

	f.clock.Advance(5 * time.Minute)
	w := f.wallet(t, helper)
	assert.Equal(t, "500.00", w.PendingAmount.StringFixed(2))
	assert.True(t, w.Balance.IsZero())

	f.clock.Advance(5 * time.Minute)
	hold, err := f.svc.Release(context.Background(), order.Transaction.ID, requester)
	require.NoError(t, err)
	assert.Equal(t, ledger.HoldReleased, hold.Status)

	w = f.wallet(t, helper)
	assert.Equal(t, "500.00", w.Balance.StringFixed(2))
	assert.True(t, w.PendingAmount.IsZero())
	assert.Equal(t, "500.00", w.TotalEarned.StringFixed(2))
	assert.Equal(t, "500.00", f.wallet(t, requester).TotalSpent.StringFixed(2))

	assert.Equal(t, requests.StatusCompleted, f.requestStatus(t))
	assert.Equal(t, []string{order.Transaction.ID}, f.settlement.calls)
	assert.Contains(t, f.events.types(), events.EscrowReleased)
}

func TestEscrow_ImplicitReleaseAfterWindow(t *testing.T) {
	f := newFixture(t, nil)
	order := f.open(t, "500")
	f.capture(t, order.Order.ID)

	f.clock.Advance(20*time.Minute - time.Second)
	assert.Equal(t, "500.00", f.wallet(t, helper).PendingAmount.StringFixed(2))

	f.clock.Advance(2 * time.Second)
	w := f.wallet(t, helper)
	assert.Equal(t, "500.00", w.Balance.StringFixed(2))
	assert.True(t, w.PendingAmount.IsZero())

	stored, err := f.ledger.GetHold(context.Background(), order.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.HoldHeld, stored.Status, "expiry is never written back")

	// A late confirmation is accepted and reads the same in the wallet.
	_, err = f.svc.Release(context.Background(), order.Transaction.ID, helper)
	require.NoError(t, err)
	assert.Equal(t, "500.00", f.wallet(t, helper).Balance.StringFixed(2))
	assert.Equal(t, requests.StatusCompleted, f.requestStatus(t))
}

func TestEscrow_DisputeFreezesFunds(t *testing.T) {
	f := newFixture(t, nil)
	order := f.open(t, "500")
	f.capture(t, order.Order.ID)
	f.clock.Advance(2 * time.Minute)

	hold, err := f.svc.Dispute(context.Background(), order.Transaction.ID, requester, "  groceries never arrived ")
	require.NoError(t, err)
	assert.Equal(t, ledger.HoldDisputed, hold.Status)
	assert.Equal(t, "groceries never arrived", hold.VerificationProof)

	_, err = f.svc.Release(context.Background(), order.Transaction.ID, requester)
	assert.ErrorIs(t, err, ErrNoActiveEscrow)
	_, err = f.svc.Dispute(context.Background(), order.Transaction.ID, helper, "again")
	assert.ErrorIs(t, err, ErrNoActiveEscrow)

	f.clock.Advance(time.Hour)
	w := f.wallet(t, helper)
	assert.True(t, w.Balance.IsZero(), "disputed funds never reach the balance")
	assert.Equal(t, "500.00", w.DisputedAmount.StringFixed(2))
	assert.True(t, w.TotalEarned.Equal(w.Balance.Add(w.PendingAmount).Add(w.DisputedAmount)))
	assert.Empty(t, f.settlement.calls)
	assert.Equal(t, requests.StatusInProgress, f.requestStatus(t))
}

func TestEscrow_DisputeAfterWindowWhileStillHeld(t *testing.T) {
	f := newFixture(t, nil)
	order := f.open(t, "500")
	f.capture(t, order.Order.ID)
	f.clock.Advance(time.Hour)

	_, err := f.svc.Dispute(context.Background(), order.Transaction.ID, helper, "requester unreachable")
	assert.NoError(t, err)
}

func TestEscrow_ReleaseAndDisputeGuards(t *testing.T) {
	f := newFixture(t, nil)
	order := f.open(t, "500")
	ctx := context.Background()

	_, err := f.svc.Release(ctx, order.Transaction.ID, requester)
	assert.ErrorIs(t, err, ErrNoActiveEscrow, "pending transaction has no hold")

	f.capture(t, order.Order.ID)

	_, err = f.svc.Release(ctx, "txn_missing", requester)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	_, err = f.svc.Release(ctx, order.Transaction.ID, stranger)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Dispute(ctx, order.Transaction.ID, stranger, "not mine")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Dispute(ctx, order.Transaction.ID, requester, "   ")
	assert.ErrorIs(t, err, ErrMissingReason)

	_, err = f.svc.Release(ctx, order.Transaction.ID, helper)
	require.NoError(t, err)
	_, err = f.svc.Release(ctx, order.Transaction.ID, requester)
	assert.ErrorIs(t, err, ErrNoActiveEscrow)
	assert.Len(t, f.settlement.calls, 1, "credits applied once")
}

func TestEscrow_SettlementFailureDoesNotUndoRelease(t *testing.T) {
	f := newFixture(t, nil)
	f.settlement.err = errors.New("reputation store down")
	order := f.open(t, "500")
	f.capture(t, order.Order.ID)

	hold, err := f.svc.Release(context.Background(), order.Transaction.ID, requester)
	require.NoError(t, err)
	assert.Equal(t, ledger.HoldReleased, hold.Status)
}

func TestEscrow_ConcurrentReleaseAndDispute(t *testing.T) {
	f := newFixture(t, nil)
	order := f.open(t, "500")
	f.capture(t, order.Order.ID)

	var wg sync.WaitGroup
	var released, disputed atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Release(context.Background(), order.Transaction.ID, requester); err == nil {
				released.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := f.svc.Dispute(context.Background(), order.Transaction.ID, helper, "race"); err == nil {
				disputed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), released.Load()+disputed.Load(), "exactly one transition wins")
}

func TestMarkCompleted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.MarkCompleted(ctx, "req_groceries", stranger, "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.MarkCompleted(ctx, "req_missing", helper, "")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	hr, err := f.svc.MarkCompleted(ctx, "req_groceries", helper, "https://img.example/receipt.jpg")
	require.NoError(t, err)
	assert.Equal(t, requests.StatusCompleted, hr.Status)
	assert.Contains(t, hr.Attachments, "https://img.example/receipt.jpg")
}

func TestMarkCompleted_SettlesExpiredHold(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.open(t, "500")
	captured := f.capture(t, order.Order.ID)

	f.clock.Advance(21 * time.Minute)
	_, err := f.svc.MarkCompleted(ctx, "req_groceries", helper, "")
	require.NoError(t, err)

	assert.Equal(t, []string{captured.Transaction.ID}, f.settlement.calls)
}

func TestMarkCompleted_ActiveHoldNotSettled(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.open(t, "500")
	f.capture(t, order.Order.ID)

	_, err := f.svc.MarkCompleted(ctx, "req_groceries", helper, "")
	require.NoError(t, err)
	assert.Empty(t, f.settlement.calls, "hold still has custody")
}

func TestMarkCompleted_DisputedHoldNotSettled(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.open(t, "500")
	captured := f.capture(t, order.Order.ID)

	_, err := f.svc.Dispute(ctx, captured.Transaction.ID, requester, "never showed up")
	require.NoError(t, err)
	f.clock.Advance(21 * time.Minute)
	_, err = f.svc.MarkCompleted(ctx, "req_groceries", helper, "")
	require.NoError(t, err)

	assert.Empty(t, f.settlement.calls)
}

type zeroStats struct{}

func (zeroStats) Stats(context.Context, string) (reputation.Stats, error) {
	return reputation.Stats{}, nil
}

func TestSettlement_CompletedThenReleasedCreditsOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rep := reputation.NewService(reputation.NewMemoryStore(), zeroStats{}, community.NewMemoryStore()).
		WithClock(f.clock.Now)
	f.svc.WithSettlementRecorder(rep)

	order := f.open(t, "500")
	captured := f.capture(t, order.Order.ID)
	f.clock.Advance(21 * time.Minute)

	_, err := f.svc.MarkCompleted(ctx, "req_groceries", helper, "")
	require.NoError(t, err)
	_, err = f.svc.Release(ctx, captured.Transaction.ID, requester)
	require.NoError(t, err, "a late release is still accepted")

	h, err := rep.GetReputation(ctx, helper)
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.TotalCredits)

	r, err := rep.GetReputation(ctx, requester)
	require.NoError(t, err)
	assert.Equal(t, int64(25), r.TotalCredits)
}

func TestListTransactions_DirectionAndDescription(t *testing.T) {
	f := newFixture(t, nil)
	order := f.open(t, "500")
	f.capture(t, order.Order.ID)

	payer, err := f.svc.ListTransactions(context.Background(), requester, 0)
	require.NoError(t, err)
	require.Len(t, payer, 1)
	assert.Equal(t, DirectionPayment, payer[0].Type)
	assert.Equal(t, "Payment for: Pick up groceries", payer[0].Description)
	assert.Equal(t, helper, payer[0].OtherUser)
	assert.True(t, payer[0].EscrowActive)
	require.NotNil(t, payer[0].EscrowHold)

	payee, err := f.svc.ListTransactions(context.Background(), helper, 0)
	require.NoError(t, err)
	require.Len(t, payee, 1)
	assert.Equal(t, DirectionEarning, payee[0].Type)
	assert.Equal(t, "Payment from: Pick up groceries", payee[0].Description)
	assert.Equal(t, requester, payee[0].OtherUser)

	none, err := f.svc.ListTransactions(context.Background(), stranger, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListTransactionsPage(t *testing.T) {
	f := newFixture(t, nil)
	order := f.open(t, "500")
	f.capture(t, order.Order.ID)

	views, next, err := f.svc.ListTransactionsPage(context.Background(), requester, 1, "")
	require.NoError(t, err)
	assert.Len(t, views, 1)
	assert.Empty(t, next)

	_, _, err = f.svc.ListTransactionsPage(context.Background(), requester, 1, "%%%")
	assert.ErrorIs(t, err, ErrValidation)
}
