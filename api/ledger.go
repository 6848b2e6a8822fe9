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

package api

import (
	"errors"
	"net/http"
	"time"

	model2 "github.com/jingkai27/payments-dashboard/api/model"
	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/model"

	"github.com/gin-gonic/gin"
)

// ledgerErrorStatus maps journal failures onto HTTP statuses. Unbalanced
// batches are the caller's fault, not ours.
func ledgerErrorStatus(err error) int {
	var ledgerErr *model.LedgerError
	if errors.As(err, &ledgerErr) {
		switch ledgerErr.Kind {
		case model.LedgerTransactionNotFound:
			return http.StatusNotFound
		case model.LedgerUnbalancedEntry, model.LedgerInvalidAccountCode:
			return http.StatusBadRequest
		case model.LedgerDuplicateEntry:
			return http.StatusConflict
		}
	}
	return apierror.MapErrorToHTTPStatus(err)
}

// RecordLedgerEntries posts a balanced batch of journal legs atomically.
//
// Responses:
// - 400 Bad Request: unbalanced batch, unknown account code or bad body.
// - 404 Not Found: the transaction id is unknown.
// - 201 Created: every leg written.
func (a Api) RecordLedgerEntries(c *gin.Context) {
	var body model2.RecordLedgerEntries
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := body.ValidateRecordLedgerEntries(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.paydash.RecordEntries(c.Request.Context(), body.TransactionID, body.ToLedgerEntries())
	if err != nil {
		c.JSON(ledgerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetLedgerEntries returns the posted legs of one transaction.
func (a Api) GetLedgerEntries(c *gin.Context) {
	transactionID, passed := c.Params.Get("transaction_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transaction_id is required. pass id in the route /:transaction_id"})
		return
	}

	resp, err := a.paydash.GetEntriesByTransaction(c.Request.Context(), transactionID)
	if err != nil {
		c.JSON(ledgerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetAccountBalance aggregates an account's debits and credits per currency.
// A currency query narrows the aggregation to one currency; an as_of query
// bounds it to entries posted at or before that instant.
func (a Api) GetAccountBalance(c *gin.Context) {
	accountCode, passed := c.Params.Get("account_code")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_code is required. pass id in the route /:account_code"})
		return
	}

	var asOf *time.Time
	if raw := c.Query("as_of"); raw != "" {
		parsed, err := parseWindowTime(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "as_of must be RFC3339 or YYYY-MM-DD"})
			return
		}
		asOf = &parsed
	}

	resp, err := a.paydash.GetAccountBalance(c.Request.Context(), accountCode, c.Query("currency"), asOf)
	if err != nil {
		c.JSON(ledgerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetLedgerSummary rolls up the whole journal and reports whether the
// books balance. This is the operator's invariant check.
func (a Api) GetLedgerSummary(c *gin.Context) {
	resp, err := a.paydash.GetLedgerSummary(c.Request.Context())
	if err != nil {
		c.JSON(ledgerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
