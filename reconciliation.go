/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package paydash

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel/trace"

	"github.com/jingkai27/payments-dashboard/internal/apierror"
	redlock "github.com/jingkai27/payments-dashboard/internal/lock"
	"github.com/jingkai27/payments-dashboard/internal/notification"
	"github.com/jingkai27/payments-dashboard/model"
)

// suggestionMaxDistance bounds how far an unknown settlement id may be from
// an internal id before we stop suggesting it as a likely typo.
const suggestionMaxDistance = 3

// ReconcileRequest scopes one reconciliation run: which provider's
// settlement data, over which window, against which merchant's books.
type ReconcileRequest struct {
	MerchantID   string                    `json:"merchant_id,omitempty"`
	ProviderCode string                    `json:"provider_code"`
	WindowStart  time.Time                 `json:"window_start"`
	WindowEnd    time.Time                 `json:"window_end"`
	Records      []*model.SettlementRecord `json:"records"`
}

func (r ReconcileRequest) validate() error {
	if r.ProviderCode == "" {
		return apierror.NewAPIError(apierror.ErrBadRequest, "provider_code is required for reconciliation", nil)
	}
	if r.WindowStart.IsZero() || r.WindowEnd.IsZero() {
		return apierror.NewAPIError(apierror.ErrBadRequest, "reconciliation window is required", nil)
	}
	if !r.WindowEnd.After(r.WindowStart) {
		return apierror.NewAPIError(apierror.ErrBadRequest, "window_end must be after window_start", nil)
	}
	for i, record := range r.Records {
		if record == nil || record.TransactionID == "" {
			return apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("settlement record %d is missing transaction_id", i+1), nil)
		}
		if record.Amount == nil {
			return apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("settlement record %d (%s) is missing amount", i+1, record.TransactionID), nil)
		}
	}
	return nil
}

// Reconcile diffs the provider's settlement records against the internal
// books for the window and persists a report with every discrepancy found.
// Matching is by transaction id; amounts compare on the settled side and
// provider statuses normalize through the settlement vocabulary first.
func (l *Paydash) Reconcile(ctx context.Context, req ReconcileRequest) (*model.ReconciliationReport, error) {
	ctx, span := tracer.Start(ctx, "Reconciling settlement window")
	defer span.End()

	reportID := model.GenerateUUIDWithSuffix("rpt")
	report, err := l.reconcile(ctx, reportID, req)
	if err != nil {
		return nil, logAndRecordError(span, "reconciliation failed: ", err)
	}
	return report, nil
}

// StartReconciliation runs Reconcile in the background and returns the
// report id immediately. The detached context keeps the active span so the
// run stays visible in traces after the request returns.
func (l *Paydash) StartReconciliation(ctx context.Context, req ReconcileRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	reportID := model.GenerateUUIDWithSuffix("rpt")

	ctxWithTrace := trace.ContextWithSpan(context.Background(), trace.SpanFromContext(ctx))
	go func() {
		if _, err := l.reconcile(ctxWithTrace, reportID, req); err != nil {
			logrus.WithFields(logrus.Fields{
				"report_id":     reportID,
				"provider_code": req.ProviderCode,
			}).Errorf("background reconciliation failed: %s", err)
			notification.NotifyError(err)
		}
	}()

	return reportID, nil
}

func (l *Paydash) reconcile(ctx context.Context, reportID string, req ReconcileRequest) (*model.ReconciliationReport, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	internal, err := l.loadInternalTransactions(ctx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	report := &model.ReconciliationReport{
		ReportID:     reportID,
		MerchantID:   req.MerchantID,
		ProviderCode: req.ProviderCode,
		WindowStart:  req.WindowStart,
		WindowEnd:    req.WindowEnd,
		CreatedAt:    now,
	}

	diffSettlement(report, internal, req.Records, now)

	if len(report.Discrepancies) == 0 {
		report.Status = model.ReportCompleted
		report.CompletedAt = ptr.Time(now)
	} else {
		report.Status = model.ReportRequiresReview
	}

	if err := l.datasource.RecordReconciliationReport(ctx, report); err != nil {
		logrus.Errorf("ERROR saving reconciliation report to db. %s", err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"report_id":     report.ReportID,
		"provider_code": report.ProviderCode,
		"matched":       report.Summary.Matched,
		"discrepancies": len(report.Discrepancies),
		"status":        report.Status,
	}).Info("reconciliation run recorded")

	l.postReconciliationActions(ctx, report)
	return report, nil
}

// loadInternalTransactions pulls the provider's transactions inside the
// window, keeping payments and refunds that ever reached the provider.
// PENDING transactions are excluded: the provider cannot have settled what
// we have not finished dispatching.
func (l *Paydash) loadInternalTransactions(ctx context.Context, req ReconcileRequest) ([]*model.Transaction, error) {
	transactions, err := l.datasource.GetTransactionsInWindow(ctx, req.ProviderCode, req.WindowStart, req.WindowEnd)
	if err != nil {
		return nil, err
	}

	scoped := make([]*model.Transaction, 0, len(transactions))
	for _, txn := range transactions {
		if req.MerchantID != "" && txn.MerchantID != req.MerchantID {
			continue
		}
		if txn.Type != model.TypePayment && txn.Type != model.TypeRefund {
			continue
		}
		if txn.Status == model.StatusPending {
			continue
		}
		scoped = append(scoped, txn)
	}
	return scoped, nil
}

// diffSettlement walks both sides of the window and fills the report with
// discrepancies and counts. Matched means the id exists on both sides with
// equal settled amount and an equivalent status.
func diffSettlement(report *model.ReconciliationReport, internal []*model.Transaction, records []*model.SettlementRecord, now time.Time) {
	internalByID := make(map[string]*model.Transaction, len(internal))
	internalIDs := make([]string, 0, len(internal))
	for _, txn := range internal {
		internalByID[txn.TransactionID] = txn
		internalIDs = append(internalIDs, txn.TransactionID)
	}

	seen := make(map[string]struct{}, len(records))
	addDiscrepancy := func(d *model.Discrepancy) {
		d.DiscrepancyID = model.GenerateUUIDWithSuffix("disc")
		d.ReportID = report.ReportID
		d.CreatedAt = now
		report.Discrepancies = append(report.Discrepancies, d)
	}

	for _, record := range records {
		if _, dup := seen[record.TransactionID]; dup {
			logrus.WithField("transaction_id", record.TransactionID).Warn("duplicate settlement row skipped")
			continue
		}
		seen[record.TransactionID] = struct{}{}

		txn, ok := internalByID[record.TransactionID]
		if !ok {
			addDiscrepancy(&model.Discrepancy{
				Type:                   model.DiscrepancyMissingInDB,
				TransactionID:          record.TransactionID,
				ActualAmount:           record.Amount,
				ActualStatus:           model.NormalizeSettlementStatus(record.Status),
				SuggestedTransactionID: closestTransactionID(record.TransactionID, internalIDs),
				Severity:               model.SeverityHigh,
			})
			report.Summary.MissingInDB++
			continue
		}

		clean := true
		if record.Amount == nil || txn.SettledAmount().Cmp(record.Amount) != 0 {
			addDiscrepancy(&model.Discrepancy{
				Type:           model.DiscrepancyAmountMismatch,
				TransactionID:  txn.TransactionID,
				ExpectedAmount: txn.SettledAmount(),
				ActualAmount:   record.Amount,
				Severity:       model.AmountMismatchSeverity(txn.SettledAmount(), record.Amount),
			})
			report.Summary.AmountMismatches++
			clean = false
		}
		if normalized := model.NormalizeSettlementStatus(record.Status); normalized != txn.Status {
			addDiscrepancy(&model.Discrepancy{
				Type:           model.DiscrepancyStatusMismatch,
				TransactionID:  txn.TransactionID,
				ExpectedStatus: txn.Status,
				ActualStatus:   normalized,
				Severity:       model.SeverityMedium,
			})
			report.Summary.StatusMismatches++
			clean = false
		}
		if clean {
			report.Summary.Matched++
		}
	}

	for _, txn := range internal {
		if _, ok := seen[txn.TransactionID]; ok {
			continue
		}
		// Settlement files lag the books; a transaction the provider has
		// not reported yet is the least alarming finding.
		addDiscrepancy(&model.Discrepancy{
			Type:           model.DiscrepancyMissingInProvider,
			TransactionID:  txn.TransactionID,
			ExpectedAmount: txn.SettledAmount(),
			ExpectedStatus: txn.Status,
			Severity:       model.SeverityLow,
		})
		report.Summary.MissingInProvider++
	}

	report.Summary.TotalInternal = len(internal)
	report.Summary.TotalSettlement = len(records)
	report.Summary.ReconciliationRate = reconciliationRate(report.Summary)
}

func reconciliationRate(summary model.ReportSummary) float64 {
	denominator := summary.TotalInternal
	if summary.TotalSettlement > denominator {
		denominator = summary.TotalSettlement
	}
	if denominator == 0 {
		return 1.0
	}
	return float64(summary.Matched) / float64(denominator)
}

// closestTransactionID returns the internal id nearest to target within the
// suggestion distance, or empty when nothing is plausibly a typo of it.
func closestTransactionID(target string, candidates []string) string {
	best := ""
	bestDistance := suggestionMaxDistance + 1
	for _, candidate := range candidates {
		distance := levenshtein.DistanceForStrings([]rune(target), []rune(candidate), levenshtein.DefaultOptions)
		if distance < bestDistance {
			best = candidate
			bestDistance = distance
		}
	}
	return best
}

// ResolveDiscrepancy closes one finding on a report. A per-report lock
// serializes reviewers so the report status flip cannot race; resolving the
// last open discrepancy completes the report.
func (l *Paydash) ResolveDiscrepancy(ctx context.Context, reportID, discrepancyID string, resolution *model.Resolution) (*model.Discrepancy, error) {
	ctx, span := tracer.Start(ctx, "Resolving discrepancy")
	defer span.End()

	if resolution == nil || resolution.ResolvedBy == "" {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "resolution requires resolved_by", nil)
	}
	if !model.ValidResolutionAction(resolution.Action) {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("unknown resolution action '%s'", resolution.Action), nil)
	}

	locker := redlock.NewLocker(l.redis, fmt.Sprintf("reconciliation:resolve:%s", reportID))
	if err := locker.WaitLock(ctx, 30*time.Second, 5*time.Second); err != nil {
		return nil, logAndRecordError(span, "could not acquire resolution lock: ", err)
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.Errorf("ERROR releasing resolution lock for report %s. %s", reportID, err)
		}
	}()

	if err := l.datasource.ResolveDiscrepancy(ctx, reportID, discrepancyID, resolution); err != nil {
		return nil, err
	}

	report, err := l.datasource.GetReconciliationReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.Status == model.ReportRequiresReview && report.UnresolvedCount() == 0 {
		if err := l.datasource.UpdateReportStatus(ctx, reportID, model.ReportCompleted); err != nil {
			return nil, err
		}
		report.Status = model.ReportCompleted
		report.CompletedAt = ptr.Time(time.Now())
		span.AddEvent("Report fully resolved, marking completed")
		l.postReconciliationActions(ctx, report)
	}

	return l.datasource.GetDiscrepancy(ctx, reportID, discrepancyID)
}

// GetReconciliationReport retrieves a report with its discrepancies.
func (l *Paydash) GetReconciliationReport(ctx context.Context, id string) (*model.ReconciliationReport, error) {
	return l.datasource.GetReconciliationReport(ctx, id)
}

// ListReconciliationReports returns reports newest first. A merchant id
// narrows the listing; paging then applies to the filtered sequence.
func (l *Paydash) ListReconciliationReports(ctx context.Context, merchantID string, limit, offset int) ([]*model.ReconciliationReport, error) {
	if limit <= 0 {
		limit = 50
	}
	if merchantID == "" {
		return l.datasource.GetReconciliationReports(ctx, limit, offset)
	}

	var matched []*model.ReconciliationReport
	skipped := 0
	pageOffset := 0
	const pageSize = 100

	for {
		page, err := l.datasource.GetReconciliationReports(ctx, pageSize, pageOffset)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return matched, nil
		}
		for _, report := range page {
			if report.MerchantID != merchantID {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			matched = append(matched, report)
			if len(matched) == limit {
				return matched, nil
			}
		}
		pageOffset += len(page)
	}
}

// postReconciliationActions fans out the report to the merchant webhook and
// the search index without blocking the caller.
func (l *Paydash) postReconciliationActions(_ context.Context, report *model.ReconciliationReport) {
	event := "reconciliation.requires_review"
	if report.Status == model.ReportCompleted {
		event = "reconciliation.completed"
	}
	go func() {
		if err := l.queue.queueWebhook(NewWebhook{
			EventID: model.GenerateUUIDWithSuffix("evt"),
			Event:   event,
			Payload: report,
		}); err != nil {
			notification.NotifyError(err)
		}
		if err := l.queue.queueIndexData(report.ReportID, CollectionReconciliations, report); err != nil {
			notification.NotifyError(err)
		}
	}()
}
