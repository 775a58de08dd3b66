// Package escrow runs the payment lifecycle for help requests.
//
// Flow:
//  1. Requester opens an order for the assigned helper: a pending
//     transaction is reserved and a gateway order created
//  2. Checkout completes and the client posts the signed payment: the
//     transaction completes, funds are held for the escrow window and the
//     request moves in progress
//  3. Either party releases the hold (request completed, credits applied)
//     or disputes it (funds frozen pending manual resolution)
//  4. A hold nobody touches is final once its release time passes
package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kindkart/kindkart/internal/config"
	"github.com/kindkart/kindkart/internal/events"
	"github.com/kindkart/kindkart/internal/gateway"
	"github.com/kindkart/kindkart/internal/idgen"
	"github.com/kindkart/kindkart/internal/ledger"
	"github.com/kindkart/kindkart/internal/logging"
	"github.com/kindkart/kindkart/internal/metrics"
	"github.com/kindkart/kindkart/internal/money"
	"github.com/kindkart/kindkart/internal/requests"
	"github.com/kindkart/kindkart/internal/syncutil"
	"github.com/kindkart/kindkart/internal/traces"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrRequestNotFound     = errors.New("help request not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrForbidden           = errors.New("not authorized for this payment")
	ErrInvalidAssignment   = errors.New("payee is not the helper assigned to this request")
	ErrInvalidSignature    = errors.New("payment signature does not match")
	ErrNoActiveEscrow      = errors.New("no active escrow hold for this transaction")
	ErrMissingReason       = errors.New("dispute reason is required")
)

// ErrDuplicatePayment is returned when the request already has an open
// payment from the same payer.
var ErrDuplicatePayment = ledger.ErrDuplicatePayment

// SettlementRecorder is told when a payment settles, on release or when the
// request is completed after the hold expired, so the parties can be
// credited. It may be called more than once for a transaction and must
// credit it only once. Its errors are logged; they never undo the release.
type SettlementRecorder interface {
	RecordSettlement(ctx context.Context, tx *ledger.Transaction) error
}

// OpenOrderRequest is the input to OpenOrder.
type OpenOrderRequest struct {
	RequestID string
	Amount    decimal.Decimal
	Currency  string
	PayerID   string
	PayeeID   string
}

// OpenOrderResult is the gateway order and the pending transaction behind it.
type OpenOrderResult struct {
	Order       *gateway.Order      `json:"order"`
	Transaction *ledger.Transaction `json:"transaction"`
}

// VerifyRequest is the checkout callback posted by the payer.
type VerifyRequest struct {
	OrderID   string
	PaymentID string
	Signature string
	CallerID  string
}

// CaptureResult is a completed transaction with its new hold.
type CaptureResult struct {
	Transaction *ledger.Transaction `json:"transaction"`
	EscrowHold  *ledger.EscrowHold  `json:"escrowHold"`
}

// Service implements the escrow state machine.
type Service struct {
	ledger     ledger.Store
	requests   requests.Store
	gateway    gateway.Gateway
	verifier   *gateway.Verifier
	settlement SettlementRecorder
	publisher  events.Publisher

	currency   string
	window     time.Duration
	pendingTTL time.Duration
	now        func() time.Time

	// orderLocks serializes OpenOrder per (request, payer); txLocks
	// serializes capture, release and dispute per transaction.
	orderLocks *syncutil.ContextShardedMutex
	txLocks    *syncutil.ContextShardedMutex
}

// NewService creates an escrow service with default timing.
func NewService(l ledger.Store, r requests.Store, g gateway.Gateway, v *gateway.Verifier) *Service {
	return &Service{
		ledger:     l,
		requests:   r,
		gateway:    g,
		verifier:   v,
		publisher:  events.Nop{},
		currency:   "INR",
		window:     config.DefaultEscrowWindow,
		pendingTTL: config.DefaultPendingOrderTTL,
		now:        time.Now,
		orderLocks: syncutil.NewContextShardedMutex(),
		txLocks:    syncutil.NewContextShardedMutex(),
	}
}

// WithWindow sets how long captured funds stay held.
func (s *Service) WithWindow(d time.Duration) *Service {
	s.window = d
	return s
}

// WithPendingTTL sets how long an unpaid order blocks a retry.
func (s *Service) WithPendingTTL(d time.Duration) *Service {
	s.pendingTTL = d
	return s
}

// WithCurrency sets the currency payments are accepted in.
func (s *Service) WithCurrency(code string) *Service {
	s.currency = strings.ToUpper(code)
	return s
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithSettlementRecorder adds the reputation hook run when a payment settles.
func (s *Service) WithSettlementRecorder(r SettlementRecorder) *Service {
	s.settlement = r
	return s
}

// WithPublisher sets where payment events go.
func (s *Service) WithPublisher(p events.Publisher) *Service {
	if p != nil {
		s.publisher = p
	}
	return s
}

// Window returns the escrow hold duration.
func (s *Service) Window() time.Duration { return s.window }

// OpenOrder reserves a pending transaction for the request and creates the
// gateway order the payer will check out against.
func (s *Service) OpenOrder(ctx context.Context, req OpenOrderRequest) (result *OpenOrderResult, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.OpenOrder",
		traces.RequestID(req.RequestID), traces.UserID(req.PayerID), traces.Currency(req.Currency))
	defer func() {
		traces.RecordError(span, err)
		span.End()
		metrics.EscrowOp("open_order", err)
	}()

	currency, minor, err := s.validateOrder(req)
	if err != nil {
		return nil, err
	}

	unlock, err := s.orderLocks.LockContext(ctx, req.RequestID+"|"+req.PayerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	hr, err := s.requests.Get(ctx, req.RequestID)
	if err != nil {
		if errors.Is(err, requests.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("load request: %w", err)
	}
	if hr.RequesterID != req.PayerID {
		return nil, ErrForbidden
	}
	if hr.HelperID == "" || hr.HelperID != req.PayeeID {
		return nil, ErrInvalidAssignment
	}

	now := s.now()
	tx := &ledger.Transaction{
		ID:        idgen.WithPrefix("txn_"),
		RequestID: req.RequestID,
		PayerID:   req.PayerID,
		PayeeID:   req.PayeeID,
		Amount:    req.Amount,
		Currency:  currency,
		Status:    ledger.TxPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.ledger.Reserve(ctx, tx, now.Add(-s.pendingTTL)); err != nil {
		return nil, err
	}

	order, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		AmountMinor: minor,
		Currency:    currency,
		Receipt:     gateway.Receipt(req.RequestID, now),
		Notes: map[string]string{
			"requestId": req.RequestID,
			"payerId":   req.PayerID,
			"payeeId":   req.PayeeID,
		},
	})
	if err != nil {
		if ferr := s.ledger.MarkFailed(ctx, tx.ID, s.now()); ferr != nil {
			logging.L(ctx).Error("failed to mark transaction failed after gateway error",
				"transaction_id", tx.ID, "error", ferr)
		}
		return nil, err
	}

	if err := s.ledger.AttachOrder(ctx, tx.ID, order.ID, s.now()); err != nil {
		return nil, fmt.Errorf("attach order: %w", err)
	}
	tx.GatewayRef = order.ID

	logging.L(ctx).Info("payment order opened",
		"transaction_id", tx.ID, "request_id", tx.RequestID, "order_id", order.ID,
		"amount", money.Format(tx.Amount, currency), "currency", currency)
	return &OpenOrderResult{Order: order, Transaction: tx}, nil
}

func (s *Service) validateOrder(req OpenOrderRequest) (string, int64, error) {
	if req.RequestID == "" || req.PayeeID == "" || req.Currency == "" {
		return "", 0, fmt.Errorf("%w: requestId, amount, currency and helperId are required", ErrValidation)
	}
	currency, err := money.NormalizeCurrency(req.Currency)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if currency != s.currency {
		return "", 0, fmt.Errorf("%w: payments are accepted in %s only", ErrValidation, s.currency)
	}
	minor, err := money.ToMinor(req.Amount, currency)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return currency, minor, nil
}

// VerifyAndCapture checks the checkout signature and, when it matches,
// completes the payer's pending transaction and opens the escrow hold.
func (s *Service) VerifyAndCapture(ctx context.Context, req VerifyRequest) (result *CaptureResult, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.VerifyAndCapture", traces.UserID(req.CallerID))
	defer func() {
		traces.RecordError(span, err)
		span.End()
		metrics.EscrowOp("capture", err)
	}()

	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return nil, fmt.Errorf("%w: orderId, paymentId and signature are required", ErrValidation)
	}
	if !s.verifier.Verify(req.OrderID, req.PaymentID, req.Signature) {
		metrics.SignatureFailuresTotal.Inc()
		logging.Security(ctx, "payment signature mismatch",
			"order_id", req.OrderID, "payment_id", req.PaymentID)
		return nil, ErrInvalidSignature
	}

	pending, err := s.ledger.FindPending(ctx, req.OrderID, req.CallerID)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("find pending transaction: %w", err)
	}
	span.SetAttributes(traces.TransactionID(pending.ID))

	unlock, err := s.txLocks.LockContext(ctx, pending.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	hold := &ledger.EscrowHold{
		ID:            idgen.WithPrefix("esc_"),
		TransactionID: pending.ID,
		ReleaseTime:   now.Add(s.window),
		Status:        ledger.HoldHeld,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := s.ledger.Capture(ctx, pending.ID, req.PaymentID, hold)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotPending), errors.Is(err, ledger.ErrTransactionNotFound):
			return nil, ErrTransactionNotFound
		case errors.Is(err, requests.ErrNotFound):
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("capture payment: %w", err)
	}

	logging.L(ctx).Info("payment captured into escrow",
		"transaction_id", tx.ID, "request_id", tx.RequestID, "release_time", hold.ReleaseTime)
	s.publish(ctx, events.New(events.PaymentCaptured, tx.ID, CaptureResult{Transaction: tx, EscrowHold: hold},
		tx.PayerID, tx.PayeeID))
	return &CaptureResult{Transaction: tx, EscrowHold: hold}, nil
}

// Release hands held funds to the helper. A release after the window has
// passed is accepted as a confirmation; the wallet reads the same either way.
func (s *Service) Release(ctx context.Context, transactionID, callerID string) (hold *ledger.EscrowHold, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Release",
		traces.TransactionID(transactionID), traces.UserID(callerID))
	defer func() {
		traces.RecordError(span, err)
		span.End()
		metrics.EscrowOp("release", err)
	}()

	unlock, err := s.txLocks.LockContext(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tx, err := s.authorize(ctx, transactionID, callerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	hold, err = s.ledger.ReleaseHold(ctx, transactionID, now)
	if err != nil {
		if errors.Is(err, ledger.ErrHoldNotFound) || errors.Is(err, ledger.ErrHoldNotHeld) {
			return nil, ErrNoActiveEscrow
		}
		return nil, fmt.Errorf("release hold: %w", err)
	}
	metrics.EscrowHoldDuration.Observe(now.Sub(hold.CreatedAt).Seconds())

	logging.L(ctx).Info("escrow released",
		"transaction_id", tx.ID, "request_id", tx.RequestID, "late", !now.Before(hold.ReleaseTime))

	s.recordSettlement(ctx, tx)
	s.publish(ctx, events.New(events.EscrowReleased, tx.ID, hold, tx.PayerID, tx.PayeeID))
	return hold, nil
}

// Dispute freezes held funds with a reason. Expiry does not matter: any hold
// still marked held can be disputed.
func (s *Service) Dispute(ctx context.Context, transactionID, callerID, reason string) (hold *ledger.EscrowHold, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Dispute",
		traces.TransactionID(transactionID), traces.UserID(callerID))
	defer func() {
		traces.RecordError(span, err)
		span.End()
		metrics.EscrowOp("dispute", err)
	}()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrMissingReason
	}

	unlock, err := s.txLocks.LockContext(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tx, err := s.authorize(ctx, transactionID, callerID)
	if err != nil {
		return nil, err
	}

	hold, err = s.ledger.DisputeHold(ctx, transactionID, reason, s.now())
	if err != nil {
		if errors.Is(err, ledger.ErrHoldNotFound) || errors.Is(err, ledger.ErrHoldNotHeld) {
			return nil, ErrNoActiveEscrow
		}
		return nil, fmt.Errorf("dispute hold: %w", err)
	}

	logging.L(ctx).Warn("escrow disputed",
		"transaction_id", tx.ID, "request_id", tx.RequestID, "disputed_by", callerID)
	s.publish(ctx, events.New(events.EscrowDisputed, tx.ID, hold, tx.PayerID, tx.PayeeID))
	return hold, nil
}

// MarkCompleted records the request as done, attaching proof when given.
// Only the requester or the assigned helper may complete it.
func (s *Service) MarkCompleted(ctx context.Context, requestID, callerID, proof string) (hr *requests.HelpRequest, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.MarkCompleted",
		traces.RequestID(requestID), traces.UserID(callerID))
	defer func() {
		traces.RecordError(span, err)
		span.End()
		metrics.EscrowOp("complete", err)
	}()

	current, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, requests.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("load request: %w", err)
	}
	if !current.IsParty(callerID) {
		return nil, ErrForbidden
	}
	hr, err = s.requests.MarkCompleted(ctx, requestID, strings.TrimSpace(proof), s.now())
	if err != nil {
		if errors.Is(err, requests.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("complete request: %w", err)
	}
	s.settleCompleted(ctx, hr)
	return hr, nil
}

// settleCompleted credits the request's payment once its hold no longer has
// custody, whether released or simply expired. Disputed and still active
// holds are left alone.
func (s *Service) settleCompleted(ctx context.Context, hr *requests.HelpRequest) {
	if s.settlement == nil {
		return
	}
	records, err := s.ledger.ListCompletedByUser(ctx, hr.RequesterID)
	if err != nil {
		logging.L(ctx).Error("failed to load payments for settlement", "request_id", hr.ID, "error", err)
		return
	}
	now := s.now()
	for _, rec := range records {
		tx, hold := rec.Transaction, rec.Hold
		if tx.RequestID != hr.ID || tx.PayerID != hr.RequesterID || hold == nil {
			continue
		}
		if hold.Status == ledger.HoldDisputed || hold.Active(now) {
			continue
		}
		s.recordSettlement(ctx, tx)
	}
}

// recordSettlement credits both parties for tx. The recorder ignores
// repeats for the same transaction.
func (s *Service) recordSettlement(ctx context.Context, tx *ledger.Transaction) {
	if s.settlement == nil {
		return
	}
	if err := s.settlement.RecordSettlement(ctx, tx); err != nil {
		logging.L(ctx).Error("failed to credit settlement", "transaction_id", tx.ID, "error", err)
	}
}

// authorize loads the transaction and checks the caller is a party to it.
func (s *Service) authorize(ctx context.Context, transactionID, callerID string) (*ledger.Transaction, error) {
	tx, err := s.ledger.Get(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if !tx.IsParty(callerID) {
		return nil, ErrForbidden
	}
	return tx, nil
}

func (s *Service) publish(ctx context.Context, e *events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		logging.L(ctx).Warn("failed to publish event", "type", e.Type, "key", e.Key, "error", err)
	}
}
