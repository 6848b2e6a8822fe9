package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/model"
)

func (d Datasource) RecordRoutingRule(ctx context.Context, rule *model.RoutingRule) (*model.RoutingRule, error) {
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal rule conditions", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO paydash.routing_rules (rule_id, merchant_id, name, provider_code, priority, enabled, conditions, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rule.RuleID, rule.MerchantID, rule.Name, rule.ProviderCode, rule.Priority, rule.Enabled, conditionsJSON, rule.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return nil, apierror.NewAPIError(apierror.ErrConflict, "Routing rule with this ID already exists", err)
			case "foreign_key_violation":
				return nil, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Unknown provider code '%s'", rule.ProviderCode), err)
			default:
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record routing rule", err)
	}
	return rule, nil
}

func (d Datasource) GetRoutingRule(ctx context.Context, id string) (*model.RoutingRule, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT rule_id, merchant_id, name, provider_code, priority, enabled, conditions, created_at
		FROM paydash.routing_rules
		WHERE rule_id = $1
	`, id)

	rule, err := scanRoutingRuleRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Routing rule with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve routing rule", err)
	}
	return rule, nil
}

// GetRoutingRules returns the merchant's rules plus the global ones
// (empty merchant_id), ordered so the first match wins.
func (d Datasource) GetRoutingRules(ctx context.Context, merchantID string) ([]*model.RoutingRule, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT rule_id, merchant_id, name, provider_code, priority, enabled, conditions, created_at
		FROM paydash.routing_rules
		WHERE merchant_id = $1 OR merchant_id = ''
		ORDER BY priority ASC, created_at ASC
	`, merchantID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve routing rules", err)
	}
	defer rows.Close()

	var rules []*model.RoutingRule
	for rows.Next() {
		rule, err := scanRoutingRuleRow(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan routing rule data", err)
		}
		rules = append(rules, rule)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over routing rules", err)
	}
	return rules, nil
}

func (d Datasource) UpdateRoutingRule(ctx context.Context, rule *model.RoutingRule) error {
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal rule conditions", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE paydash.routing_rules
		SET name = $2, provider_code = $3, priority = $4, enabled = $5, conditions = $6
		WHERE rule_id = $1
	`, rule.RuleID, rule.Name, rule.ProviderCode, rule.Priority, rule.Enabled, conditionsJSON)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update routing rule", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Routing rule with ID '%s' not found", rule.RuleID), nil)
	}
	return nil
}

func (d Datasource) DeleteRoutingRule(ctx context.Context, id string) error {
	result, err := d.Conn.ExecContext(ctx, `
		DELETE FROM paydash.routing_rules WHERE rule_id = $1
	`, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete routing rule", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Routing rule with ID '%s' not found", id), nil)
	}
	return nil
}

func scanRoutingRuleRow(row rowScanner) (*model.RoutingRule, error) {
	rule := &model.RoutingRule{}
	var conditionsJSON []byte
	err := row.Scan(&rule.RuleID, &rule.MerchantID, &rule.Name, &rule.ProviderCode, &rule.Priority, &rule.Enabled, &conditionsJSON, &rule.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
			return nil, err
		}
	}
	return rule, nil
}
