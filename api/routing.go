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

	"github.com/sirupsen/logrus"

	paydash "github.com/jingkai27/payments-dashboard"
	model2 "github.com/jingkai27/payments-dashboard/api/model"
	"github.com/jingkai27/payments-dashboard/internal/apierror"

	"github.com/gin-gonic/gin"
)

// CreateRoutingRule persists a routing rule and invalidates the merchant's
// cached rule set.
func (a Api) CreateRoutingRule(c *gin.Context) {
	var newRule model2.CreateRoutingRule
	if err := c.ShouldBindJSON(&newRule); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := newRule.ValidateCreateRoutingRule(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.paydash.CreateRoutingRule(c.Request.Context(), newRule.ToRoutingRule(""))
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetRoutingRule(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.paydash.GetRoutingRule(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListRoutingRules returns a merchant's rules in evaluation order, global
// rules included.
func (a Api) ListRoutingRules(c *gin.Context) {
	resp, err := a.paydash.ListRoutingRules(c.Request.Context(), c.Query("merchant_id"))
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) UpdateRoutingRule(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var body model2.CreateRoutingRule
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := body.ValidateCreateRoutingRule(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.paydash.UpdateRoutingRule(c.Request.Context(), body.ToRoutingRule(id))
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) DeleteRoutingRule(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if err := a.paydash.DeleteRoutingRule(c.Request.Context(), id); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Routing rule deleted successfully"})
}

// PreviewRoutingDecision dry-runs provider selection for a hypothetical
// payment and returns the full scored decision, without moving money.
func (a Api) PreviewRoutingDecision(c *gin.Context) {
	var body model2.RoutingDecisionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := body.ValidateRoutingDecisionRequest(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.paydash.SelectProvider(c.Request.Context(), body.ToRoutingContext())
	if err != nil {
		if errors.Is(err, paydash.ErrNoEligibleProvider) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ListProviders(c *gin.Context) {
	resp, err := a.paydash.ListProviders(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetProviderHealth reports adapter reachability and the rolling metrics
// window behind routing scores.
func (a Api) GetProviderHealth(c *gin.Context) {
	code, passed := c.Params.Get("code")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required. pass the code in the route /providers/:code/health"})
		return
	}

	resp, err := a.paydash.GetProviderHealth(c.Request.Context(), code)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetFxRate returns the effective rate for ?source=USD&target=EUR.
func (a Api) GetFxRate(c *gin.Context) {
	source := c.Query("source")
	target := c.Query("target")
	if source == "" || target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source and target query parameters are required"})
		return
	}

	resp, err := a.paydash.GetFxRate(c.Request.Context(), source, target)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetFxQuote prices a conversion, spread included.
func (a Api) GetFxQuote(c *gin.Context) {
	var body model2.FxQuoteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := body.ValidateFxQuoteRequest(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.paydash.GetFxQuote(c.Request.Context(), body.SourceCurrency, body.TargetCurrency, big.NewInt(body.Amount))
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
