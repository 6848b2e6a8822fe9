package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/model"

	_ "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

const transactionColumns = `transaction_id, merchant_id, customer_id, type, status, amount, currency, converted_amount, settlement_currency, fx_quote_id, payment_method, provider_code, provider_transaction_id, idempotency_key, parent_transaction_id, description, failure_code, failure_reason, meta_data, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanTransactionRow maps one row onto a Transaction. Amounts are stored
// as NUMERIC and travel through strings so minor units never lose
// precision.
func scanTransactionRow(row rowScanner) (*model.Transaction, error) {
	txn := &model.Transaction{}
	var (
		amountStr         string
		convertedAmount   sql.NullString
		idempotencyKey    sql.NullString
		paymentMethodJSON []byte
		metaDataJSON      []byte
	)
	err := row.Scan(
		&txn.TransactionID, &txn.MerchantID, &txn.CustomerID, &txn.Type, &txn.Status,
		&amountStr, &txn.Currency, &convertedAmount, &txn.SettlementCurrency, &txn.FxQuoteID,
		&paymentMethodJSON, &txn.ProviderCode, &txn.ProviderTransactionID, &idempotencyKey,
		&txn.ParentTransactionID, &txn.Description, &txn.FailureCode, &txn.FailureReason,
		&metaDataJSON, &txn.CreatedAt, &txn.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.Amount, err = model.BigIntFromString(amountStr)
	if err != nil {
		return nil, err
	}
	if convertedAmount.Valid {
		txn.ConvertedAmount, err = model.BigIntFromString(convertedAmount.String)
		if err != nil {
			return nil, err
		}
	}
	txn.IdempotencyKey = idempotencyKey.String

	if len(paymentMethodJSON) > 0 {
		if err := json.Unmarshal(paymentMethodJSON, &txn.PaymentMethod); err != nil {
			return nil, err
		}
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &txn.MetaData); err != nil {
			return nil, err
		}
	}
	return txn, nil
}

func (d Datasource) RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	ctx, span := otel.Tracer("Payment transaction").Start(ctx, "Saving transaction to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(txn.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}
	paymentMethodJSON, err := json.Marshal(txn.PaymentMethod)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal payment method", err)
	}

	var convertedAmount interface{}
	if txn.ConvertedAmount != nil {
		convertedAmount = txn.ConvertedAmount.String()
	}
	idempotencyKey := sql.NullString{String: txn.IdempotencyKey, Valid: txn.IdempotencyKey != ""}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO paydash.transactions(transaction_id,merchant_id,customer_id,type,status,amount,currency,converted_amount,settlement_currency,fx_quote_id,payment_method,provider_code,provider_transaction_id,idempotency_key,parent_transaction_id,description,failure_code,failure_reason,meta_data,created_at,completed_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		txn.TransactionID, txn.MerchantID, txn.CustomerID, txn.Type, txn.Status, txn.Amount.String(), txn.Currency, convertedAmount, txn.SettlementCurrency, txn.FxQuoteID, paymentMethodJSON, txn.ProviderCode, txn.ProviderTransactionID, idempotencyKey, txn.ParentTransactionID, txn.Description, txn.FailureCode, txn.FailureReason, metaDataJSON, txn.CreatedAt, txn.CompletedAt,
	)

	if err != nil {
		_ = tx.Rollback()
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return nil, apierror.NewAPIError(apierror.ErrConflict, "Transaction with this idempotency key already exists", err)
			default:
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", err)
	}

	if err := insertStatusHistory(ctx, tx, txn.TransactionID, "", txn.Status, "created"); err != nil {
		_ = tx.Rollback()
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record status history", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return txn, nil
}

func (d Datasource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM paydash.transactions
		WHERE transaction_id = $1
	`, transactionColumns), id)

	txn, err := scanTransactionRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

func (d Datasource) GetTransactionByIdempotencyKey(ctx context.Context, merchantID, key string) (*model.Transaction, error) {
	ctx, span := otel.Tracer("Payment transaction").Start(ctx, "Getting transaction from db by idempotency key")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM paydash.transactions
		WHERE merchant_id = $1 AND idempotency_key = $2
	`, transactionColumns), merchantID, key)

	txn, err := scanTransactionRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with idempotency key '%s' not found", key), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

func (d Datasource) GetTransactionByProviderRef(ctx context.Context, providerTransactionID string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM paydash.transactions
		WHERE provider_transaction_id = $1
	`, transactionColumns), providerTransactionID)

	txn, err := scanTransactionRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with provider reference '%s' not found", providerTransactionID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

func (d Datasource) GetAllTransactions(ctx context.Context, filter model.TransactionFilter) ([]*model.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM paydash.transactions WHERE 1=1`, transactionColumns)
	args := []interface{}{}

	if filter.MerchantID != "" {
		args = append(args, filter.MerchantID)
		query += fmt.Sprintf(" AND merchant_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.ProviderCode != "" {
		args = append(args, filter.ProviderCode)
		query += fmt.Sprintf(" AND provider_code = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		txn, err := scanTransactionRow(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction data", err)
		}
		transactions = append(transactions, txn)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over transactions", err)
	}
	return transactions, nil
}

func (d Datasource) GetTransactionsByParentID(ctx context.Context, parentID string) ([]*model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM paydash.transactions
		WHERE parent_transaction_id = $1
		ORDER BY created_at ASC
	`, transactionColumns), parentID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve child transactions", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		txn, err := scanTransactionRow(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction data", err)
		}
		transactions = append(transactions, txn)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over transactions", err)
	}
	return transactions, nil
}

func (d Datasource) SumCompletedRefunds(ctx context.Context, parentID string) (*big.Int, error) {
	var sumStr string
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM paydash.transactions
		WHERE parent_transaction_id = $1 AND type = 'REFUND' AND status = 'COMPLETED'
	`, parentID).Scan(&sumStr)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sum refunds", err)
	}
	return model.BigIntFromString(sumStr)
}

// UpdateTransactionStatus moves a transaction to status and appends the
// history row in the same database transaction.
func (d Datasource) UpdateTransactionStatus(ctx context.Context, id string, status string, reason string) error {
	ctx, span := otel.Tracer("Payment transaction").Start(ctx, "Updating transaction status")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	var fromStatus string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM paydash.transactions WHERE transaction_id = $1 FOR UPDATE
	`, id).Scan(&fromStatus)
	if err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to load transaction for update", err)
	}

	settled := status == model.StatusCompleted || model.IsTerminalStatus(status)
	_, err = tx.ExecContext(ctx, `
		UPDATE paydash.transactions
		SET status = $2,
		    completed_at = CASE WHEN $3 THEN COALESCE(completed_at, NOW()) ELSE completed_at END
		WHERE transaction_id = $1
	`, id, status, settled)
	if err != nil {
		_ = tx.Rollback()
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction status", err)
	}

	err = insertStatusHistory(ctx, tx, id, fromStatus, status, reason)
	if err != nil {
		_ = tx.Rollback()
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record status history", err)
	}

	if err = tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit status update", err)
	}
	return nil
}

// UpdateTransactionOutcome writes the result of a provider attempt: status,
// provider references and failure detail, plus the history row.
func (d Datasource) UpdateTransactionOutcome(ctx context.Context, txn *model.Transaction, reason string) error {
	ctx, span := otel.Tracer("Payment transaction").Start(ctx, "Saving attempt outcome to db")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	var fromStatus string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM paydash.transactions WHERE transaction_id = $1 FOR UPDATE
	`, txn.TransactionID).Scan(&fromStatus)
	if err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", txn.TransactionID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to load transaction for update", err)
	}

	settled := txn.Status == model.StatusCompleted || model.IsTerminalStatus(txn.Status)
	_, err = tx.ExecContext(ctx, `
		UPDATE paydash.transactions
		SET status = $2,
		    provider_code = $3,
		    provider_transaction_id = $4,
		    failure_code = $5,
		    failure_reason = $6,
		    completed_at = CASE WHEN $7 THEN COALESCE(completed_at, NOW()) ELSE completed_at END
		WHERE transaction_id = $1
	`, txn.TransactionID, txn.Status, txn.ProviderCode, txn.ProviderTransactionID, txn.FailureCode, txn.FailureReason, settled)
	if err != nil {
		_ = tx.Rollback()
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction outcome", err)
	}

	err = insertStatusHistory(ctx, tx, txn.TransactionID, fromStatus, txn.Status, reason)
	if err != nil {
		_ = tx.Rollback()
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record status history", err)
	}

	if err = tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit attempt outcome", err)
	}
	return nil
}

func insertStatusHistory(ctx context.Context, tx *sql.Tx, transactionID, fromStatus, toStatus, reason string) error {
	if fromStatus == toStatus {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO paydash.transaction_status_history(history_id, transaction_id, from_status, to_status, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, model.GenerateUUIDWithSuffix("hist"), transactionID, fromStatus, toStatus, reason, time.Now())
	return err
}

func (d Datasource) GetStatusHistory(ctx context.Context, transactionID string) ([]model.TransactionStatusHistory, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT history_id, transaction_id, from_status, to_status, reason, created_at
		FROM paydash.transaction_status_history
		WHERE transaction_id = $1
		ORDER BY created_at ASC
	`, transactionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve status history", err)
	}
	defer rows.Close()

	var history []model.TransactionStatusHistory
	for rows.Next() {
		var h model.TransactionStatusHistory
		err = rows.Scan(&h.HistoryID, &h.TransactionID, &h.FromStatus, &h.ToStatus, &h.Reason, &h.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan status history", err)
		}
		history = append(history, h)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over status history", err)
	}
	return history, nil
}

func (d Datasource) GetTransactionsInWindow(ctx context.Context, providerCode string, start, end time.Time) ([]*model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM paydash.transactions
		WHERE provider_code = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
	`, transactionColumns), providerCode, start, end)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions in window", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		txn, err := scanTransactionRow(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction data", err)
		}
		transactions = append(transactions, txn)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over transactions", err)
	}
	return transactions, nil
}
