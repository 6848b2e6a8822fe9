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

package model

import (
	"math/big"
	"strings"
	"time"
)

// Discrepancy types produced by the settlement diff.
const (
	DiscrepancyMissingInDB       = "MISSING_IN_DB"
	DiscrepancyMissingInProvider = "MISSING_IN_PROVIDER"
	DiscrepancyAmountMismatch    = "AMOUNT_MISMATCH"
	DiscrepancyStatusMismatch    = "STATUS_MISMATCH"
)

// Discrepancy severities.
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"
)

// Reconciliation report statuses.
const (
	ReportCompleted      = "COMPLETED"
	ReportRequiresReview = "REQUIRES_REVIEW"
)

// SettlementRecord is one row of externally supplied settlement data,
// normalized from whatever shape the provider file carried. RawRow keeps
// the original columns for investigation.
type SettlementRecord struct {
	RecordID      string                 `json:"record_id"`
	TransactionID string                 `json:"transaction_id"`
	ProviderCode  string                 `json:"provider_code"`
	Amount        *big.Int               `json:"amount"`
	Currency      string                 `json:"currency"`
	Status        string                 `json:"status"`
	SettledAt     time.Time              `json:"settled_at"`
	RawRow        map[string]interface{} `json:"raw_row,omitempty"`
}

// NormalizeSettlementStatus maps provider settlement vocabulary onto the
// internal lifecycle so statuses can be compared. Unknown strings pass
// through upper-cased and will surface as STATUS_MISMATCH.
func NormalizeSettlementStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "settled", "succeeded", "success", "captured", "completed", "paid":
		return StatusCompleted
	case "refunded", "refund":
		return StatusRefunded
	case "failed", "declined", "error":
		return StatusFailed
	case "cancelled", "canceled", "voided":
		return StatusCancelled
	case "pending", "processing", "in_transit":
		return StatusPending
	default:
		return strings.ToUpper(strings.TrimSpace(status))
	}
}

// Resolution records how a reviewer closed a discrepancy.
type Resolution struct {
	Action     string `json:"action"`
	Note       string `json:"note,omitempty"`
	ResolvedBy string `json:"resolved_by"`
}

// Resolution actions. force_match accepts the provider's record as
// authoritative, refund marks the gap for a compensating refund, ignore
// closes the finding without action.
const (
	ResolutionForceMatch = "force_match"
	ResolutionRefund     = "refund"
	ResolutionIgnore     = "ignore"
)

// ValidResolutionAction reports whether action is one of the accepted
// resolution actions.
func ValidResolutionAction(action string) bool {
	switch action {
	case ResolutionForceMatch, ResolutionRefund, ResolutionIgnore:
		return true
	}
	return false
}

// Discrepancy is one mismatch found by a reconciliation run.
type Discrepancy struct {
	DiscrepancyID          string      `json:"discrepancy_id"`
	ReportID               string      `json:"report_id"`
	Type                   string      `json:"type"`
	TransactionID          string      `json:"transaction_id"`
	ExpectedAmount         *big.Int    `json:"expected_amount,omitempty"`
	ActualAmount           *big.Int    `json:"actual_amount,omitempty"`
	ExpectedStatus         string      `json:"expected_status,omitempty"`
	ActualStatus           string      `json:"actual_status,omitempty"`
	SuggestedTransactionID string      `json:"suggested_transaction_id,omitempty"`
	Severity               string      `json:"severity"`
	Resolved               bool        `json:"resolved"`
	Resolution             *Resolution `json:"resolution,omitempty"`
	ResolvedAt             *time.Time  `json:"resolved_at,omitempty"`
	CreatedAt              time.Time   `json:"created_at"`
}

// AmountMismatchSeverity grades a mismatch by its relative size: above one
// percent of the expected amount is HIGH, anything else MEDIUM. A side with
// no amount at all is the maximal mismatch.
func AmountMismatchSeverity(expected, actual *big.Int) string {
	if expected == nil || actual == nil || expected.Sign() == 0 {
		return SeverityHigh
	}
	diff := new(big.Int).Sub(expected, actual)
	diff.Abs(diff)
	// |diff| * 100 > |expected| means the gap exceeds 1%.
	scaled := new(big.Int).Mul(diff, big.NewInt(100))
	if scaled.CmpAbs(expected) > 0 {
		return SeverityHigh
	}
	return SeverityMedium
}

// ReportSummary is the counting side of a reconciliation run.
type ReportSummary struct {
	TotalInternal      int     `json:"total_internal"`
	TotalSettlement    int     `json:"total_settlement"`
	Matched            int     `json:"matched"`
	MissingInDB        int     `json:"missing_in_db"`
	MissingInProvider  int     `json:"missing_in_provider"`
	AmountMismatches   int     `json:"amount_mismatches"`
	StatusMismatches   int     `json:"status_mismatches"`
	ReconciliationRate float64 `json:"reconciliation_rate"`
}

// ReconciliationReport is one reconciliation run with its findings.
type ReconciliationReport struct {
	ReportID      string         `json:"report_id"`
	MerchantID    string         `json:"merchant_id,omitempty"`
	ProviderCode  string         `json:"provider_code,omitempty"`
	WindowStart   time.Time      `json:"window_start"`
	WindowEnd     time.Time      `json:"window_end"`
	Status        string         `json:"status"`
	Summary       ReportSummary  `json:"summary"`
	Discrepancies []*Discrepancy `json:"discrepancies,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// UnresolvedCount counts discrepancies still awaiting review.
func (r *ReconciliationReport) UnresolvedCount() int {
	count := 0
	for _, d := range r.Discrepancies {
		if !d.Resolved {
			count++
		}
	}
	return count
}
