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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/model"
)

// RecordReconciliationReport stores a finished run and its discrepancies in
// one database transaction.
func (d Datasource) RecordReconciliationReport(ctx context.Context, report *model.ReconciliationReport) error {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Saving reconciliation report to db")
	defer span.End()

	summaryJSON, err := json.Marshal(report.Summary)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal report summary", err)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO paydash.reconciliation_reports (report_id, merchant_id, provider_code, window_start, window_end, status, summary, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, report.ReportID, report.MerchantID, report.ProviderCode, report.WindowStart, report.WindowEnd, report.Status, summaryJSON, report.CreatedAt, report.CompletedAt)
	if err != nil {
		_ = tx.Rollback()
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record reconciliation report", err)
	}

	for _, disc := range report.Discrepancies {
		var expectedAmount, actualAmount interface{}
		if disc.ExpectedAmount != nil {
			expectedAmount = disc.ExpectedAmount.String()
		}
		if disc.ActualAmount != nil {
			actualAmount = disc.ActualAmount.String()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO paydash.discrepancies (discrepancy_id, report_id, type, transaction_id, expected_amount, actual_amount, expected_status, actual_status, suggested_transaction_id, severity, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, disc.DiscrepancyID, report.ReportID, disc.Type, disc.TransactionID, expectedAmount, actualAmount, disc.ExpectedStatus, disc.ActualStatus, disc.SuggestedTransactionID, disc.Severity, disc.CreatedAt)
		if err != nil {
			_ = tx.Rollback()
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record discrepancy", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit reconciliation report", err)
	}
	return nil
}

func (d Datasource) GetReconciliationReport(ctx context.Context, id string) (*model.ReconciliationReport, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT report_id, merchant_id, provider_code, window_start, window_end, status, summary, created_at, completed_at
		FROM paydash.reconciliation_reports
		WHERE report_id = $1
	`, id)

	report, err := scanReportRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Reconciliation report with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve reconciliation report", err)
	}

	discrepancies, err := d.getDiscrepanciesByReport(ctx, id)
	if err != nil {
		return nil, err
	}
	report.Discrepancies = discrepancies
	return report, nil
}

func (d Datasource) GetReconciliationReports(ctx context.Context, limit, offset int) ([]*model.ReconciliationReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT report_id, merchant_id, provider_code, window_start, window_end, status, summary, created_at, completed_at
		FROM paydash.reconciliation_reports
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve reconciliation reports", err)
	}
	defer rows.Close()

	var reports []*model.ReconciliationReport
	for rows.Next() {
		report, err := scanReportRow(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan reconciliation report data", err)
		}
		reports = append(reports, report)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over reconciliation reports", err)
	}
	return reports, nil
}

func (d Datasource) GetDiscrepancy(ctx context.Context, reportID, discrepancyID string) (*model.Discrepancy, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT discrepancy_id, report_id, type, transaction_id, expected_amount, actual_amount, expected_status, actual_status, suggested_transaction_id, severity, resolved, resolution_action, resolution_note, resolved_by, resolved_at, created_at
		FROM paydash.discrepancies
		WHERE report_id = $1 AND discrepancy_id = $2
	`, reportID, discrepancyID)

	disc, err := scanDiscrepancyRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Discrepancy '%s' not found in report '%s'", discrepancyID, reportID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve discrepancy", err)
	}
	return disc, nil
}

// ResolveDiscrepancy closes a discrepancy exactly once. A second attempt
// surfaces as a conflict, not a silent overwrite.
func (d Datasource) ResolveDiscrepancy(ctx context.Context, reportID, discrepancyID string, resolution *model.Resolution) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE paydash.discrepancies
		SET resolved = TRUE, resolution_action = $3, resolution_note = $4, resolved_by = $5, resolved_at = NOW()
		WHERE report_id = $1 AND discrepancy_id = $2 AND resolved = FALSE
	`, reportID, discrepancyID, resolution.Action, resolution.Note, resolution.ResolvedBy)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to resolve discrepancy", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		if _, err := d.GetDiscrepancy(ctx, reportID, discrepancyID); err != nil {
			return err
		}
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Discrepancy '%s' is already resolved", discrepancyID), nil)
	}
	return nil
}

// UpdateReportStatus moves a report between review states. Completing a
// report stamps completed_at.
func (d Datasource) UpdateReportStatus(ctx context.Context, reportID, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE paydash.reconciliation_reports
		SET status = $2, completed_at = CASE WHEN $2 = 'COMPLETED' THEN NOW() ELSE completed_at END
		WHERE report_id = $1
	`, reportID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update report status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Reconciliation report with ID '%s' not found", reportID), nil)
	}
	return nil
}

func (d Datasource) getDiscrepanciesByReport(ctx context.Context, reportID string) ([]*model.Discrepancy, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT discrepancy_id, report_id, type, transaction_id, expected_amount, actual_amount, expected_status, actual_status, suggested_transaction_id, severity, resolved, resolution_action, resolution_note, resolved_by, resolved_at, created_at
		FROM paydash.discrepancies
		WHERE report_id = $1
		ORDER BY created_at ASC, discrepancy_id ASC
	`, reportID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve discrepancies", err)
	}
	defer rows.Close()

	var discrepancies []*model.Discrepancy
	for rows.Next() {
		disc, err := scanDiscrepancyRow(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan discrepancy data", err)
		}
		discrepancies = append(discrepancies, disc)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over discrepancies", err)
	}
	return discrepancies, nil
}

func scanReportRow(row rowScanner) (*model.ReconciliationReport, error) {
	report := &model.ReconciliationReport{}
	var summaryJSON []byte
	err := row.Scan(&report.ReportID, &report.MerchantID, &report.ProviderCode, &report.WindowStart, &report.WindowEnd, &report.Status, &summaryJSON, &report.CreatedAt, &report.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &report.Summary); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func scanDiscrepancyRow(row rowScanner) (*model.Discrepancy, error) {
	disc := &model.Discrepancy{}
	var (
		expectedAmount   sql.NullString
		actualAmount     sql.NullString
		resolutionAction string
		resolutionNote   string
		resolvedBy       string
	)
	err := row.Scan(&disc.DiscrepancyID, &disc.ReportID, &disc.Type, &disc.TransactionID, &expectedAmount, &actualAmount, &disc.ExpectedStatus, &disc.ActualStatus, &disc.SuggestedTransactionID, &disc.Severity, &disc.Resolved, &resolutionAction, &resolutionNote, &resolvedBy, &disc.ResolvedAt, &disc.CreatedAt)
	if err != nil {
		return nil, err
	}

	if expectedAmount.Valid {
		disc.ExpectedAmount, err = model.BigIntFromString(expectedAmount.String)
		if err != nil {
			return nil, err
		}
	}
	if actualAmount.Valid {
		disc.ActualAmount, err = model.BigIntFromString(actualAmount.String)
		if err != nil {
			return nil, err
		}
	}
	if disc.Resolved {
		disc.Resolution = &model.Resolution{Action: resolutionAction, Note: resolutionNote, ResolvedBy: resolvedBy}
	}
	return disc, nil
}
