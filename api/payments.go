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
	"math/big"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	model2 "github.com/jingkai27/payments-dashboard/api/model"
	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/model"

	"github.com/gin-gonic/gin"
)

// CreatePayment orchestrates a new payment end to end: validation, FX,
// routing and the provider attempt loop.
//
// Responses:
// - 400 Bad Request: invalid body.
// - 402 Payment Required: every candidate provider declined or failed.
// - 200 OK: an idempotency key replay, the original transaction returned.
// - 201 Created: the payment was executed.
func (a Api) CreatePayment(c *gin.Context) {
	var newPayment model2.CreatePayment
	if err := c.ShouldBindJSON(&newPayment); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := newPayment.ValidateCreatePayment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, replayed, err := a.paydash.CreatePayment(c.Request.Context(), newPayment.ToPaymentRequest())
	if err != nil {
		var paymentErr *model.PaymentError
		if errors.As(err, &paymentErr) && paymentErr.Kind == model.PaymentAllProvidersFailed {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error(), "transaction": resp})
			return
		}
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	if replayed {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetPayment(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.paydash.GetPayment(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListPayments returns transactions filtered by the query string:
// merchant_id, status, provider and paging via limit/offset.
func (a Api) ListPayments(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	filter := model.TransactionFilter{
		MerchantID:   c.Query("merchant_id"),
		Status:       c.Query("status"),
		ProviderCode: c.Query("provider"),
		Limit:        limit,
		Offset:       offset,
	}

	resp, err := a.paydash.ListPayments(c.Request.Context(), filter)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetPaymentHistory returns the append-only status trail of a transaction.
func (a Api) GetPaymentHistory(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.paydash.GetPaymentHistory(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListRefunds returns the refund transactions linked to a payment.
func (a Api) ListRefunds(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.paydash.ListRefunds(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CapturePayment settles an open authorization.
func (a Api) CapturePayment(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.paydash.CapturePayment(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CancelPayment voids a payment that has not been captured.
func (a Api) CancelPayment(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var body model2.CancelPayment
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	resp, err := a.paydash.CancelPayment(c.Request.Context(), id, body.Reason)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RefundPayment refunds a completed payment, fully or partially. The
// response is the new REFUND transaction linked to the parent.
func (a Api) RefundPayment(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var body model2.RefundPayment
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := body.ValidateRefundPayment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	var amount *big.Int
	if body.Amount > 0 {
		amount = big.NewInt(body.Amount)
	}

	resp, err := a.paydash.RefundPayment(c.Request.Context(), id, amount, body.Reason)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ReceiveProviderWebhook ingests a provider callback. The adapter verifies
// the signature and parses the event before any state changes.
func (a Api) ReceiveProviderWebhook(c *gin.Context) {
	providerCode, passed := c.Params.Get("provider")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider is required. pass the code in the route /webhooks/:provider"})
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read payload"})
		return
	}
	signature := c.GetHeader("X-Webhook-Signature")

	resp, err := a.paydash.ApplyProviderEvent(c.Request.Context(), providerCode, payload, signature)
	if err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction_id": resp.TransactionID, "status": resp.Status})
}
