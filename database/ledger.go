package database

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"

	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/model"
)

// RecordLedgerEntries inserts a posting batch atomically. Either every leg
// lands or none do; a duplicate leg aborts the whole batch.
func (d Datasource) RecordLedgerEntries(ctx context.Context, entries []*model.LedgerEntry) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	for _, entry := range entries {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO paydash.ledger_entries (entry_id, transaction_id, account_code, entry_type, amount, currency, description, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, entry.EntryID, entry.TransactionID, entry.AccountCode, entry.EntryType, entry.Amount.String(), entry.Currency, entry.Description, entry.CreatedAt)
		if err != nil {
			_ = tx.Rollback()
			pqErr, ok := err.(*pq.Error)
			if ok && pqErr.Code.Name() == "unique_violation" {
				return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Ledger entry for transaction '%s' already posted", entry.TransactionID), err)
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record ledger entry", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit ledger entries", err)
	}
	return nil
}

func (d Datasource) GetLedgerEntriesByTransaction(ctx context.Context, transactionID string) ([]*model.LedgerEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT entry_id, transaction_id, account_code, entry_type, amount, currency, description, created_at
		FROM paydash.ledger_entries
		WHERE transaction_id = $1
		ORDER BY created_at ASC, entry_id ASC
	`, transactionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entries", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		entry := &model.LedgerEntry{}
		var amountStr string
		err = rows.Scan(&entry.EntryID, &entry.TransactionID, &entry.AccountCode, &entry.EntryType, &amountStr, &entry.Currency, &entry.Description, &entry.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry data", err)
		}
		entry.Amount, err = model.BigIntFromString(amountStr)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse ledger amount", err)
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over ledger entries", err)
	}
	return entries, nil
}

// GetAccountBalance aggregates one account per currency. An empty currency
// returns every currency the account has entries in; asOf bounds the
// aggregation to entries posted at or before that instant.
func (d Datasource) GetAccountBalance(ctx context.Context, accountCode, currency string, asOf *time.Time) ([]*model.AccountBalance, error) {
	var asOfArg interface{}
	if asOf != nil {
		asOfArg = *asOf
	}
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT currency,
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'DEBIT'), 0),
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'CREDIT'), 0)
		FROM paydash.ledger_entries
		WHERE account_code = $1
			AND ($2 = '' OR currency = $2)
			AND ($3::timestamptz IS NULL OR created_at <= $3)
		GROUP BY currency
		ORDER BY currency ASC
	`, accountCode, currency, asOfArg)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to aggregate account balance", err)
	}
	defer rows.Close()

	var balances []*model.AccountBalance
	for rows.Next() {
		var rowCurrency, debitsStr, creditsStr string
		err = rows.Scan(&rowCurrency, &debitsStr, &creditsStr)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan account balance data", err)
		}
		debits, err := model.BigIntFromString(debitsStr)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse debit total", err)
		}
		credits, err := model.BigIntFromString(creditsStr)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse credit total", err)
		}
		balances = append(balances, &model.AccountBalance{
			AccountCode: accountCode,
			Currency:    rowCurrency,
			Debits:      debits,
			Credits:     credits,
			Net:         new(big.Int).Sub(debits, credits),
		})
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over account balances", err)
	}

	// An account with no entries still answers with a zeroed balance when
	// the caller pinned a currency.
	if len(balances) == 0 && currency != "" {
		balances = append(balances, &model.AccountBalance{
			AccountCode: accountCode,
			Currency:    currency,
			Debits:      big.NewInt(0),
			Credits:     big.NewInt(0),
			Net:         big.NewInt(0),
		})
	}
	return balances, nil
}

// GetLedgerSummary rolls the whole journal up per account and currency and
// checks the books still balance in every currency.
func (d Datasource) GetLedgerSummary(ctx context.Context) (*model.LedgerSummary, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT account_code, currency,
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'DEBIT'), 0),
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'CREDIT'), 0)
		FROM paydash.ledger_entries
		GROUP BY account_code, currency
		ORDER BY account_code ASC, currency ASC
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to aggregate ledger summary", err)
	}
	defer rows.Close()

	summary := &model.LedgerSummary{GeneratedAt: time.Now(), IsBalanced: true}
	currencyDebits := make(map[string]*big.Int)
	currencyCredits := make(map[string]*big.Int)
	var currencies []string

	for rows.Next() {
		var accountCode, currency, debitsStr, creditsStr string
		err = rows.Scan(&accountCode, &currency, &debitsStr, &creditsStr)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger summary data", err)
		}
		debits, err := model.BigIntFromString(debitsStr)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse debit total", err)
		}
		credits, err := model.BigIntFromString(creditsStr)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse credit total", err)
		}

		summary.Balances = append(summary.Balances, model.AccountBalance{
			AccountCode: accountCode,
			Currency:    currency,
			Debits:      debits,
			Credits:     credits,
			Net:         new(big.Int).Sub(debits, credits),
		})

		if _, seen := currencyDebits[currency]; !seen {
			currencyDebits[currency] = big.NewInt(0)
			currencyCredits[currency] = big.NewInt(0)
			currencies = append(currencies, currency)
		}
		currencyDebits[currency].Add(currencyDebits[currency], debits)
		currencyCredits[currency].Add(currencyCredits[currency], credits)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over ledger summary", err)
	}

	for _, currency := range currencies {
		summary.Totals = append(summary.Totals, model.CurrencyTotals{
			Currency: currency,
			Debits:   currencyDebits[currency],
			Credits:  currencyCredits[currency],
		})
		if currencyDebits[currency].Cmp(currencyCredits[currency]) != 0 {
			summary.IsBalanced = false
		}
	}
	return summary, nil
}
