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
	"math/big"
	"time"

	"github.com/jingkai27/payments-dashboard/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	transaction    // Interface for transaction-related operations
	provider       // Interface for the provider directory
	routingRule    // Interface for routing rule storage
	ledger         // Interface for double-entry postings
	fx             // Interface for persisted FX quotes
	reconciliation // Interface for reconciliation runs and discrepancies
}

// transaction defines methods for handling transactions.
type transaction interface {
	RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)                                  // Records a new transaction
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)                                                  // Retrieves a transaction by ID
	GetTransactionByIdempotencyKey(ctx context.Context, merchantID, key string) (*model.Transaction, error)                     // Retrieves a transaction by merchant and idempotency key
	GetTransactionByProviderRef(ctx context.Context, providerTransactionID string) (*model.Transaction, error)                  // Retrieves a transaction by the provider's reference
	GetAllTransactions(ctx context.Context, filter model.TransactionFilter) ([]*model.Transaction, error)                       // Retrieves transactions matching the filter
	GetTransactionsByParentID(ctx context.Context, parentID string) ([]*model.Transaction, error)                               // Retrieves child transactions of a parent
	SumCompletedRefunds(ctx context.Context, parentID string) (*big.Int, error)                                                 // Sums completed refund amounts against a parent
	UpdateTransactionStatus(ctx context.Context, id string, status string, reason string) error                                 // Updates status and appends a history row atomically
	UpdateTransactionOutcome(ctx context.Context, txn *model.Transaction, reason string) error                                  // Writes the full attempt outcome and appends history
	GetStatusHistory(ctx context.Context, transactionID string) ([]model.TransactionStatusHistory, error)                       // Retrieves the lifecycle audit trail
	GetTransactionsInWindow(ctx context.Context, providerCode string, start, end time.Time) ([]*model.Transaction, error)       // Retrieves transactions for a provider inside a time window
}

// provider defines methods for the provider directory.
type provider interface {
	SeedProviders(ctx context.Context, providers []*model.Provider) error       // Upserts the configured providers
	GetProviders(ctx context.Context) ([]*model.Provider, error)                // Retrieves all providers
	GetProvider(ctx context.Context, code string) (*model.Provider, error)      // Retrieves a provider by code
	UpdateProviderStatus(ctx context.Context, code string, status string) error // Updates a provider's routing status
}

// routingRule defines methods for routing rule storage.
type routingRule interface {
	RecordRoutingRule(ctx context.Context, rule *model.RoutingRule) (*model.RoutingRule, error) // Records a new routing rule
	GetRoutingRule(ctx context.Context, id string) (*model.RoutingRule, error)                  // Retrieves a routing rule by ID
	GetRoutingRules(ctx context.Context, merchantID string) ([]*model.RoutingRule, error)       // Retrieves merchant plus global rules ordered by priority
	UpdateRoutingRule(ctx context.Context, rule *model.RoutingRule) error                       // Updates a routing rule
	DeleteRoutingRule(ctx context.Context, id string) error                                     // Deletes a routing rule
}

// ledger defines methods for double-entry postings.
type ledger interface {
	RecordLedgerEntries(ctx context.Context, entries []*model.LedgerEntry) error                       // Inserts a balanced batch atomically
	GetLedgerEntriesByTransaction(ctx context.Context, transactionID string) ([]*model.LedgerEntry, error) // Retrieves all postings of a transaction
	GetAccountBalance(ctx context.Context, accountCode, currency string, asOf *time.Time) ([]*model.AccountBalance, error) // Aggregates one account per currency, optionally as of an instant
	GetLedgerSummary(ctx context.Context) (*model.LedgerSummary, error)                                    // Rolls up every account and currency
}

// fx defines methods for persisted FX quotes.
type fx interface {
	RecordFxQuote(ctx context.Context, quote *model.Quote) error      // Records an applied quote for audit
	GetFxQuote(ctx context.Context, id string) (*model.Quote, error)  // Retrieves a quote by ID
}

// reconciliation defines methods for reconciliation runs and discrepancies.
type reconciliation interface {
	RecordReconciliationReport(ctx context.Context, report *model.ReconciliationReport) error                          // Records a completed run with its discrepancies
	GetReconciliationReport(ctx context.Context, id string) (*model.ReconciliationReport, error)                       // Retrieves a report with discrepancies
	GetReconciliationReports(ctx context.Context, limit, offset int) ([]*model.ReconciliationReport, error)            // Retrieves reports newest first
	GetDiscrepancy(ctx context.Context, reportID, discrepancyID string) (*model.Discrepancy, error)                    // Retrieves one discrepancy
	ResolveDiscrepancy(ctx context.Context, reportID, discrepancyID string, resolution *model.Resolution) error        // Marks a discrepancy resolved
	UpdateReportStatus(ctx context.Context, reportID, status string) error                                             // Updates a report's status
}
