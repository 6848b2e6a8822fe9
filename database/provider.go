package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/model"
)

// SeedProviders upserts the configured provider directory. Codes are the
// natural key; re-seeding refreshes everything except the provider_id.
func (d Datasource) SeedProviders(ctx context.Context, providers []*model.Provider) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	for _, p := range providers {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO paydash.providers (provider_id, code, name, status, supported_currencies, supported_methods, fee_percent, base_latency_ms, priority, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (code) DO UPDATE SET
				name = EXCLUDED.name,
				status = EXCLUDED.status,
				supported_currencies = EXCLUDED.supported_currencies,
				supported_methods = EXCLUDED.supported_methods,
				fee_percent = EXCLUDED.fee_percent,
				base_latency_ms = EXCLUDED.base_latency_ms,
				priority = EXCLUDED.priority
		`, p.ProviderID, p.Code, p.Name, p.Status, pq.Array(p.SupportedCurrencies), pq.Array(p.SupportedMethods), p.FeePercent, p.BaseLatencyMS, p.Priority, p.CreatedAt)
		if err != nil {
			_ = tx.Rollback()
			return apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to seed provider '%s'", p.Code), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit provider seed", err)
	}
	return nil
}

func (d Datasource) GetProviders(ctx context.Context) ([]*model.Provider, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT provider_id, code, name, status, supported_currencies, supported_methods, fee_percent, base_latency_ms, priority, created_at
		FROM paydash.providers
		ORDER BY priority ASC, code ASC
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve providers", err)
	}
	defer rows.Close()

	var providers []*model.Provider
	for rows.Next() {
		p := &model.Provider{}
		err = rows.Scan(&p.ProviderID, &p.Code, &p.Name, &p.Status, pq.Array(&p.SupportedCurrencies), pq.Array(&p.SupportedMethods), &p.FeePercent, &p.BaseLatencyMS, &p.Priority, &p.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan provider data", err)
		}
		providers = append(providers, p)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over providers", err)
	}
	return providers, nil
}

func (d Datasource) GetProvider(ctx context.Context, code string) (*model.Provider, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT provider_id, code, name, status, supported_currencies, supported_methods, fee_percent, base_latency_ms, priority, created_at
		FROM paydash.providers
		WHERE code = $1
	`, code)

	p := &model.Provider{}
	err := row.Scan(&p.ProviderID, &p.Code, &p.Name, &p.Status, pq.Array(&p.SupportedCurrencies), pq.Array(&p.SupportedMethods), &p.FeePercent, &p.BaseLatencyMS, &p.Priority, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Provider with code '%s' not found", code), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve provider", err)
	}
	return p, nil
}

func (d Datasource) UpdateProviderStatus(ctx context.Context, code string, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE paydash.providers
		SET status = $2
		WHERE code = $1
	`, code, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update provider status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Provider with code '%s' not found", code), nil)
	}
	return nil
}
