package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/model"
)

func (d Datasource) RecordFxQuote(ctx context.Context, quote *model.Quote) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO paydash.fx_quotes (quote_id, source_currency, target_currency, amount, converted_amount, rate, spread_bps, effective_rate, provider, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, quote.QuoteID, quote.Source, quote.Target, quote.Amount.String(), quote.ConvertedAmount.String(), quote.Rate.String(), quote.SpreadBps, quote.EffectiveRate.String(), quote.Provider, quote.CreatedAt, quote.ExpiresAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record fx quote", err)
	}
	return nil
}

func (d Datasource) GetFxQuote(ctx context.Context, id string) (*model.Quote, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT quote_id, source_currency, target_currency, amount, converted_amount, rate, spread_bps, effective_rate, provider, created_at, expires_at
		FROM paydash.fx_quotes
		WHERE quote_id = $1
	`, id)

	quote := &model.Quote{}
	var amountStr, convertedStr, rateStr, effectiveRateStr string
	err := row.Scan(&quote.QuoteID, &quote.Source, &quote.Target, &amountStr, &convertedStr, &rateStr, &quote.SpreadBps, &effectiveRateStr, &quote.Provider, &quote.CreatedAt, &quote.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Fx quote with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve fx quote", err)
	}

	quote.Amount, err = model.BigIntFromString(amountStr)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse quote amount", err)
	}
	quote.ConvertedAmount, err = model.BigIntFromString(convertedStr)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse converted amount", err)
	}
	quote.Rate, err = decimal.NewFromString(rateStr)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse quote rate", err)
	}
	quote.EffectiveRate, err = decimal.NewFromString(effectiveRateStr)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse effective rate", err)
	}
	return quote, nil
}
