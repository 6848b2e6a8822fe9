package paydash

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/internal/notification"
	"github.com/jingkai27/payments-dashboard/model"
	"github.com/jingkai27/payments-dashboard/providers"
)

var (
	tracer = otel.Tracer("Payment orchestrator")
)

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

func isNotFound(err error) bool {
	var apiErr apierror.APIError
	return errors.As(err, &apiErr) && apiErr.Code == apierror.ErrNotFound
}

func isConflict(err error) bool {
	var apiErr apierror.APIError
	return errors.As(err, &apiErr) && apiErr.Code == apierror.ErrConflict
}

// PaymentRequest is the orchestrator's input for a new payment. Amount is
// minor units in the request currency; Capture false leaves an open
// authorization to be captured later.
type PaymentRequest struct {
	MerchantID     string                 `json:"merchant_id"`
	CustomerID     string                 `json:"customer_id"`
	Amount         *big.Int               `json:"amount"`
	Currency       string                 `json:"currency"`
	PaymentMethod  model.PaymentMethod    `json:"payment_method"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Description    string                 `json:"description"`
	Capture        bool                   `json:"capture"`
	MetaData       map[string]interface{} `json:"meta_data"`
}

func (req *PaymentRequest) toTransaction() *model.Transaction {
	return &model.Transaction{
		TransactionID:  model.GenerateUUIDWithSuffix("txn"),
		MerchantID:     req.MerchantID,
		CustomerID:     req.CustomerID,
		Type:           model.TypePayment,
		Status:         model.StatusPending,
		Amount:         req.Amount,
		Currency:       strings.ToUpper(req.Currency),
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
		Description:    req.Description,
		MetaData:       req.MetaData,
		CreatedAt:      time.Now(),
	}
}

// routingContextFor builds the routing view of a transaction. Routing and
// provider calls both see the settled side, so eligibility checks match the
// currency the provider will actually move.
func routingContextFor(txn *model.Transaction) *model.RoutingContext {
	rctx := &model.RoutingContext{
		MerchantID:    txn.MerchantID,
		CustomerID:    txn.CustomerID,
		Amount:        txn.SettledAmount(),
		Currency:      txn.SettledCurrency(),
		PaymentMethod: txn.PaymentMethod,
		MetaData:      txn.MetaData,
	}
	if region, ok := txn.MetaData["region"].(string); ok {
		rctx.Region = region
	}
	return rctx
}

// CreatePayment runs the full orchestration for a new payment: validation,
// idempotency, FX conversion, routing, then the sequential provider attempt
// loop. The second return is true when an existing transaction was returned
// for the idempotency key instead of re-executing.
func (l *Paydash) CreatePayment(ctx context.Context, req *PaymentRequest) (*model.Transaction, bool, error) {
	ctx, span := tracer.Start(ctx, "Creating payment")
	defer span.End()

	txn := req.toTransaction()
	if err := txn.Validate(); err != nil {
		return nil, false, err
	}

	if req.IdempotencyKey != "" {
		existing, err := l.datasource.GetTransactionByIdempotencyKey(ctx, req.MerchantID, req.IdempotencyKey)
		if err == nil {
			span.AddEvent("Returning existing transaction for idempotency key")
			return existing, true, nil
		}
		if !isNotFound(err) {
			return nil, false, logAndRecordError(span, "idempotency lookup failed ", err)
		}
	}

	if err := l.applyConversion(ctx, txn); err != nil {
		return nil, false, logAndRecordError(span, "fx conversion failed ", err)
	}

	routingCtx := routingContextFor(txn)
	decision, err := l.SelectProvider(ctx, routingCtx)
	if err != nil {
		if errors.Is(err, ErrNoEligibleProvider) {
			return nil, false, model.WrapPaymentError(model.PaymentAllProvidersFailed, "no eligible provider for transaction", err)
		}
		return nil, false, logAndRecordError(span, "provider selection failed ", err)
	}

	txn, err = l.persistTransaction(ctx, txn)
	if err != nil {
		// the unique constraint on idempotency key is the source of truth
		// under concurrent duplicate submissions
		if isConflict(err) && req.IdempotencyKey != "" {
			existing, fetchErr := l.datasource.GetTransactionByIdempotencyKey(ctx, req.MerchantID, req.IdempotencyKey)
			if fetchErr == nil {
				span.AddEvent("Lost idempotency race, returning winner")
				return existing, true, nil
			}
		}
		return nil, false, err
	}

	txn, err = l.executeAttempts(ctx, txn, routingCtx, decision, req.Capture)
	return txn, false, err
}

// applyConversion books an FX quote onto the transaction when the merchant
// settles in a different currency. The quote is persisted for audit before
// any money moves.
func (l *Paydash) applyConversion(ctx context.Context, txn *model.Transaction) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	settlement := cnf.SettlementCurrencyFor(txn.MerchantID)
	if settlement == "" || strings.EqualFold(settlement, txn.Currency) {
		return nil
	}

	quote, err := l.converter.GetQuote(ctx, txn.Currency, settlement, txn.Amount)
	if err != nil {
		return err
	}
	if err := l.datasource.RecordFxQuote(ctx, quote); err != nil {
		return err
	}

	txn.ConvertedAmount = quote.ConvertedAmount
	txn.SettlementCurrency = quote.Target
	txn.FxQuoteID = quote.QuoteID
	return nil
}

func (l *Paydash) persistTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	txn, err := l.datasource.RecordTransaction(ctx, txn)
	if err != nil {
		logrus.Errorf("ERROR saving transaction to db. %s", err)
		return nil, err
	}
	return txn, nil
}

// executeAttempts runs the provider attempt loop: the selected provider
// first, then live-scored fallbacks, capped by config. Fallback order is
// significant and a non-retryable failure must stop further attempts, so
// attempts never run in parallel.
func (l *Paydash) executeAttempts(ctx context.Context, txn *model.Transaction, routingCtx *model.RoutingContext, decision *model.RoutingDecision, capture bool) (*model.Transaction, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	if err := l.transitionStatus(ctx, txn, model.StatusProcessing, "dispatching to "+decision.SelectedProvider); err != nil {
		return nil, err
	}

	providerCode := decision.SelectedProvider
	attempted := make([]string, 0, cnf.Routing.MaxAttempts)
	var lastErr *providers.Error

	for len(attempted) < cnf.Routing.MaxAttempts {
		result, err := l.attemptProvider(ctx, providerCode, txn, capture)
		attempted = append(attempted, providerCode)
		if err == nil {
			return l.finishAttempt(ctx, txn, providerCode, result)
		}

		var provErr *providers.Error
		if !errors.As(err, &provErr) {
			return nil, err
		}
		lastErr = provErr
		logrus.WithFields(logrus.Fields{
			"transaction_id": txn.TransactionID,
			"provider":       providerCode,
			"code":           provErr.Code,
		}).Warnf("provider attempt %d failed: %s", len(attempted), provErr.Message)

		if !provErr.Retryable {
			break
		}
		next, err := l.GetNextFallback(ctx, routingCtx, attempted)
		if err != nil {
			if errors.Is(err, ErrNoEligibleProvider) {
				break
			}
			return nil, err
		}
		providerCode = next.Code
	}

	return l.failPayment(ctx, txn, lastErr)
}

// attemptProvider runs one authorize call and feeds its outcome into the
// rolling metrics window either way.
func (l *Paydash) attemptProvider(ctx context.Context, providerCode string, txn *model.Transaction, capture bool) (*providers.PaymentResult, error) {
	adapter, err := l.registry.Get(providerCode)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := adapter.Authorize(ctx, &providers.AuthorizeRequest{
		TransactionID: txn.TransactionID,
		MerchantID:    txn.MerchantID,
		Amount:        txn.SettledAmount(),
		Currency:      txn.SettledCurrency(),
		PaymentMethod: txn.PaymentMethod,
		Capture:       capture,
		MetaData:      txn.MetaData,
	})
	l.metrics.RecordAttempt(ctx, providerCode, err == nil, time.Since(start))
	return result, err
}

// finishAttempt writes a successful attempt's outcome: captured settles the
// transaction, authorized returns it to PENDING to await capture.
func (l *Paydash) finishAttempt(ctx context.Context, txn *model.Transaction, providerCode string, result *providers.PaymentResult) (*model.Transaction, error) {
	txn.ProviderCode = providerCode
	txn.ProviderTransactionID = result.ProviderTransactionID

	target := model.StatusPending
	reason := "authorized by " + providerCode
	if result.Status == providers.ResultCaptured {
		target = model.StatusCompleted
		reason = "captured by " + providerCode
	}
	if !txn.CanTransitionTo(target) {
		return nil, model.NewPaymentError(model.PaymentInvalidStatus,
			fmt.Sprintf("cannot move transaction %s from %s to %s", txn.TransactionID, txn.Status, target))
	}

	txn.Status = target
	if err := l.datasource.UpdateTransactionOutcome(ctx, txn, reason); err != nil {
		return nil, err
	}

	if target == model.StatusCompleted {
		now := time.Now()
		txn.CompletedAt = &now
		l.settleCompletedPayment(ctx, txn)
	} else {
		l.postTransactionActions(ctx, txn)
	}
	return txn, nil
}

// failPayment closes the attempt loop: the transaction is marked FAILED
// with the last provider error and the whole call fails. The provider error
// stays reachable through errors.As on the returned PaymentError.
func (l *Paydash) failPayment(ctx context.Context, txn *model.Transaction, lastErr *providers.Error) (*model.Transaction, error) {
	reason := "all provider attempts failed"
	if lastErr != nil {
		txn.ProviderCode = lastErr.Provider
		txn.FailureCode = string(lastErr.Code)
		txn.FailureReason = lastErr.Message
		reason = fmt.Sprintf("provider %s: %s", lastErr.Provider, lastErr.Message)
	}

	txn.Status = model.StatusFailed
	if err := l.datasource.UpdateTransactionOutcome(ctx, txn, reason); err != nil {
		return nil, err
	}
	l.postTransactionActions(ctx, txn)

	failure := &model.PaymentError{Kind: model.PaymentAllProvidersFailed, Message: reason}
	if lastErr != nil {
		failure.Err = lastErr
	}
	return txn, failure
}

// transitionStatus is the gate for lifecycle moves: it validates the step
// against the state machine, then persists the update and its history row
// atomically.
func (l *Paydash) transitionStatus(ctx context.Context, txn *model.Transaction, target string, reason string) error {
	if !txn.CanTransitionTo(target) {
		return model.NewPaymentError(model.PaymentInvalidStatus,
			fmt.Sprintf("cannot move transaction %s from %s to %s", txn.TransactionID, txn.Status, target))
	}
	if err := l.datasource.UpdateTransactionStatus(ctx, txn.TransactionID, target, reason); err != nil {
		return err
	}
	txn.Status = target
	if txn.CompletedAt == nil && (target == model.StatusCompleted || model.IsTerminalStatus(target)) {
		now := time.Now()
		txn.CompletedAt = &now
	}
	return nil
}

// settleCompletedPayment books the double-entry postings for a captured
// payment and fans out notifications. The provider has already settled the
// charge, so posting failures notify operators instead of failing the call.
func (l *Paydash) settleCompletedPayment(ctx context.Context, txn *model.Transaction) {
	if err := l.RecordPayment(ctx, txn); err != nil {
		notification.NotifyError(err)
	}
	if txn.FxQuoteID != "" {
		quote, err := l.datasource.GetFxQuote(ctx, txn.FxQuoteID)
		if err != nil {
			notification.NotifyError(err)
		} else if err := l.RecordFxSpread(ctx, txn, quote); err != nil {
			notification.NotifyError(err)
		}
	}
	l.postTransactionActions(ctx, txn)
}

func (l *Paydash) postTransactionActions(ctx context.Context, txn *model.Transaction) {
	l.notifyEvent(ctx, getEventFromStatus(txn.Status), txn)
}

// notifyEvent fans one lifecycle event out to the merchant webhook queue,
// the kafka topic and the search index. All three are best-effort and never
// affect the transaction.
func (l *Paydash) notifyEvent(_ context.Context, event string, txn *model.Transaction) {
	go func() {
		if err := l.queue.queueWebhook(NewWebhook{
			EventID: model.GenerateUUIDWithSuffix("evt"),
			Event:   event,
			Payload: txn,
		}); err != nil {
			notification.NotifyError(err)
		}
		l.events.Publish(context.Background(), event, txn)
		if err := l.queue.queueIndexData(txn.TransactionID, CollectionTransactions, txn); err != nil {
			notification.NotifyError(err)
		}
	}()
}

// CapturePayment settles a previously authorized payment. The transaction
// must be PENDING and carry the provider reference from authorization.
func (l *Paydash) CapturePayment(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Capturing payment")
	defer span.End()

	txn, err := l.datasource.GetTransaction(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, model.WrapPaymentError(model.PaymentNotFound, "transaction "+id+" not found", err)
		}
		return nil, logAndRecordError(span, "capture lookup failed ", err)
	}
	if txn.Type != model.TypePayment || txn.Status != model.StatusPending {
		return nil, model.NewPaymentError(model.PaymentInvalidStatus,
			fmt.Sprintf("transaction %s cannot be captured from status %s", id, txn.Status))
	}
	if txn.ProviderTransactionID == "" {
		return nil, model.NewPaymentError(model.PaymentInvalidStatus,
			fmt.Sprintf("transaction %s has no provider authorization to capture", id))
	}

	adapter, err := l.registry.Get(txn.ProviderCode)
	if err != nil {
		return nil, model.WrapPaymentError(model.PaymentProviderError, "no adapter for provider "+txn.ProviderCode, err)
	}
	if _, err := adapter.Capture(ctx, txn.ProviderTransactionID, nil); err != nil {
		return nil, model.WrapPaymentError(model.PaymentProviderError, "capture failed for transaction "+id, err)
	}

	if err := l.transitionStatus(ctx, txn, model.StatusCompleted, "captured on request"); err != nil {
		return nil, err
	}
	l.settleCompletedPayment(ctx, txn)
	return txn, nil
}

// CancelPayment voids an open authorization. Only PENDING transactions can
// be cancelled; anything the provider has captured must be refunded instead.
func (l *Paydash) CancelPayment(ctx context.Context, id string, reason string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Cancelling payment")
	defer span.End()

	txn, err := l.datasource.GetTransaction(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, model.WrapPaymentError(model.PaymentNotFound, "transaction "+id+" not found", err)
		}
		return nil, logAndRecordError(span, "cancel lookup failed ", err)
	}
	if txn.Type != model.TypePayment || txn.Status != model.StatusPending {
		return nil, model.NewPaymentError(model.PaymentInvalidStatus,
			fmt.Sprintf("transaction %s cannot be cancelled from status %s", id, txn.Status))
	}

	if txn.ProviderTransactionID != "" {
		adapter, err := l.registry.Get(txn.ProviderCode)
		if err != nil {
			return nil, model.WrapPaymentError(model.PaymentProviderError, "no adapter for provider "+txn.ProviderCode, err)
		}
		if _, err := adapter.Void(ctx, txn.ProviderTransactionID); err != nil {
			return nil, model.WrapPaymentError(model.PaymentProviderError, "void failed for transaction "+id, err)
		}
	}

	if reason == "" {
		reason = "cancelled by merchant"
	}
	if err := l.transitionStatus(ctx, txn, model.StatusCancelled, reason); err != nil {
		return nil, err
	}
	l.postTransactionActions(ctx, txn)
	return txn, nil
}

// RefundPayment refunds part or all of a completed payment. A nil amount
// refunds the remaining balance. The refund is recorded as its own
// transaction linked to the parent; when cumulative refunds reach the
// captured amount the parent moves to REFUNDED.
func (l *Paydash) RefundPayment(ctx context.Context, id string, amount *big.Int, reason string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Refunding payment")
	defer span.End()

	parent, err := l.datasource.GetTransaction(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, model.WrapPaymentError(model.PaymentNotFound, "transaction "+id+" not found", err)
		}
		return nil, logAndRecordError(span, "refund lookup failed ", err)
	}
	if parent.Type != model.TypePayment {
		return nil, model.NewPaymentError(model.PaymentInvalidRequest, "only payments can be refunded")
	}
	if parent.Status != model.StatusCompleted {
		return nil, model.NewPaymentError(model.PaymentInvalidStatus,
			fmt.Sprintf("transaction %s cannot be refunded from status %s", id, parent.Status))
	}

	refunded, err := l.datasource.SumCompletedRefunds(ctx, parent.TransactionID)
	if err != nil {
		return nil, logAndRecordError(span, "refund sum failed ", err)
	}
	remaining := new(big.Int).Sub(parent.SettledAmount(), refunded)
	if remaining.Sign() <= 0 {
		return nil, model.NewPaymentError(model.PaymentInvalidRequest,
			fmt.Sprintf("transaction %s is already fully refunded", id))
	}
	if amount == nil {
		amount = remaining
	}
	if amount.Sign() <= 0 {
		return nil, model.NewPaymentError(model.PaymentInvalidRequest, "refund amount must be positive")
	}
	if amount.Cmp(remaining) > 0 {
		return nil, model.NewPaymentError(model.PaymentInvalidRequest,
			fmt.Sprintf("refund amount exceeds the remaining refundable balance %s", remaining.String()))
	}

	adapter, err := l.registry.Get(parent.ProviderCode)
	if err != nil {
		return nil, model.WrapPaymentError(model.PaymentProviderError, "no adapter for provider "+parent.ProviderCode, err)
	}
	if _, err := adapter.Refund(ctx, parent.ProviderTransactionID, amount); err != nil {
		return nil, model.WrapPaymentError(model.PaymentProviderError, "refund failed for transaction "+id, err)
	}

	now := time.Now()
	refund := &model.Transaction{
		TransactionID:       model.GenerateUUIDWithSuffix("txn"),
		MerchantID:          parent.MerchantID,
		CustomerID:          parent.CustomerID,
		Type:                model.TypeRefund,
		Status:              model.StatusCompleted,
		Amount:              amount,
		Currency:            parent.SettledCurrency(),
		PaymentMethod:       parent.PaymentMethod,
		ProviderCode:        parent.ProviderCode,
		ParentTransactionID: parent.TransactionID,
		Description:         reason,
		CreatedAt:           now,
		CompletedAt:         &now,
	}
	refund, err = l.persistTransaction(ctx, refund)
	if err != nil {
		return nil, err
	}

	if err := l.RecordRefund(ctx, refund); err != nil {
		notification.NotifyError(err)
	}
	l.notifyEvent(ctx, "payment.refunded", refund)

	if new(big.Int).Add(refunded, amount).Cmp(parent.SettledAmount()) == 0 {
		if err := l.transitionStatus(ctx, parent, model.StatusRefunded, "fully refunded"); err != nil {
			return nil, err
		}
		l.postTransactionActions(ctx, parent)
	}
	return refund, nil
}

func (l *Paydash) GetPayment(ctx context.Context, id string) (*model.Transaction, error) {
	return l.datasource.GetTransaction(ctx, id)
}

// GetPaymentByReference resolves a transaction by the provider's reference,
// the id carried on inbound provider webhooks.
func (l *Paydash) GetPaymentByReference(ctx context.Context, providerTransactionID string) (*model.Transaction, error) {
	return l.datasource.GetTransactionByProviderRef(ctx, providerTransactionID)
}

func (l *Paydash) ListPayments(ctx context.Context, filter model.TransactionFilter) ([]*model.Transaction, error) {
	return l.datasource.GetAllTransactions(ctx, filter)
}

// GetPaymentHistory returns the lifecycle audit trail of a transaction.
func (l *Paydash) GetPaymentHistory(ctx context.Context, id string) ([]model.TransactionStatusHistory, error) {
	if _, err := l.datasource.GetTransaction(ctx, id); err != nil {
		return nil, err
	}
	return l.datasource.GetStatusHistory(ctx, id)
}

// ListRefunds returns the refunds recorded against a payment.
func (l *Paydash) ListRefunds(ctx context.Context, parentID string) ([]*model.Transaction, error) {
	return l.datasource.GetTransactionsByParentID(ctx, parentID)
}

// eventTargetStatus maps provider event types to the lifecycle status they
// drive toward.
func eventTargetStatus(eventType string) (string, bool) {
	switch eventType {
	case "payment.captured":
		return model.StatusCompleted, true
	case "payment.failed":
		return model.StatusFailed, true
	case "refund.settled":
		return model.StatusRefunded, true
	}
	return "", false
}

// ApplyProviderEvent ingests a provider webhook: the adapter verifies the
// signature and parses the payload, then the mapped transition is applied.
// Replayed events whose target status already holds are acknowledged as
// no-ops so provider redelivery stays harmless.
func (l *Paydash) ApplyProviderEvent(ctx context.Context, providerCode string, payload []byte, signature string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Applying provider event")
	defer span.End()

	adapter, err := l.registry.Get(providerCode)
	if err != nil {
		return nil, model.WrapPaymentError(model.PaymentNotFound, "unknown provider "+providerCode, err)
	}
	if !adapter.VerifyWebhookSignature(payload, signature) {
		return nil, model.NewPaymentError(model.PaymentInvalidRequest, "webhook signature verification failed")
	}
	event, err := adapter.ParseWebhookEvent(payload)
	if err != nil {
		return nil, model.WrapPaymentError(model.PaymentInvalidRequest, "malformed webhook payload", err)
	}

	target, ok := eventTargetStatus(event.EventType)
	if !ok {
		return nil, model.NewPaymentError(model.PaymentInvalidRequest, "unhandled provider event "+event.EventType)
	}

	txn, err := l.datasource.GetTransactionByProviderRef(ctx, event.ProviderTransactionID)
	if err != nil {
		if isNotFound(err) {
			return nil, model.WrapPaymentError(model.PaymentNotFound,
				"no transaction for provider reference "+event.ProviderTransactionID, err)
		}
		return nil, logAndRecordError(span, "provider reference lookup failed ", err)
	}

	// refund events settle against the parent payment even when the
	// provider references the refund itself
	if target == model.StatusRefunded && txn.ParentTransactionID != "" {
		txn, err = l.datasource.GetTransaction(ctx, txn.ParentTransactionID)
		if err != nil {
			return nil, logAndRecordError(span, "parent lookup failed ", err)
		}
	}

	if txn.Status == target {
		span.AddEvent("Replayed provider event, acknowledging")
		return txn, nil
	}

	if err := l.transitionStatus(ctx, txn, target, "provider event "+event.EventType); err != nil {
		return nil, err
	}
	if target == model.StatusCompleted {
		l.settleCompletedPayment(ctx, txn)
	} else {
		l.postTransactionActions(ctx, txn)
	}
	return txn, nil
}
