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
	"net/http"

	"github.com/typesense/typesense-go/typesense/api"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	paydash "github.com/jingkai27/payments-dashboard"
	"github.com/jingkai27/payments-dashboard/api/middleware"
	"github.com/jingkai27/payments-dashboard/config"
)

type Api struct {
	paydash *paydash.Paydash
	router  *gin.Engine
}

// Router registers every route on the engine and returns it.
func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/payments", a.CreatePayment)
	router.GET("/payments", a.ListPayments)
	router.GET("/payments/:id", a.GetPayment)
	router.GET("/payments/:id/history", a.GetPaymentHistory)
	router.GET("/payments/:id/refunds", a.ListRefunds)
	router.POST("/payments/:id/capture", a.CapturePayment)
	router.POST("/payments/:id/cancel", a.CancelPayment)
	router.POST("/payments/:id/refund", a.RefundPayment)

	router.POST("/routing-rules", a.CreateRoutingRule)
	router.GET("/routing-rules", a.ListRoutingRules)
	router.GET("/routing-rules/:id", a.GetRoutingRule)
	router.PUT("/routing-rules/:id", a.UpdateRoutingRule)
	router.DELETE("/routing-rules/:id", a.DeleteRoutingRule)
	router.POST("/routing-decision", a.PreviewRoutingDecision)

	router.GET("/providers", a.ListProviders)
	router.GET("/providers/:code/health", a.GetProviderHealth)

	router.GET("/fx/rate", a.GetFxRate)
	router.POST("/fx/quote", a.GetFxQuote)

	router.POST("/ledger-entries", a.RecordLedgerEntries)
	router.GET("/ledger-entries/:transaction_id", a.GetLedgerEntries)
	router.GET("/balances/:account_code", a.GetAccountBalance)
	router.GET("/ledger-summary", a.GetLedgerSummary)

	router.POST("/reconciliation", a.StartReconciliation)
	router.POST("/reconciliation/upload", a.UploadSettlementFile)
	router.GET("/reconciliation/mock-settlement", a.GenerateMockSettlement)
	router.GET("/reconciliation/reports", a.ListReconciliationReports)
	router.GET("/reconciliation/reports/:id", a.GetReconciliationReport)
	router.POST("/reconciliation/reports/:id/discrepancies/:discrepancy_id/resolve", a.ResolveDiscrepancy)

	router.POST("/webhooks/:provider", a.ReceiveProviderWebhook)

	router.POST("/search/:collection", a.Search)
	router.POST("/search/reindex", a.StartReindex)
	router.GET("/search/reindex/progress", a.GetReindexProgress)
	return a.router
}

func NewAPI(b *paydash.Paydash) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{paydash: b, router: r}
}

func (a Api) Search(c *gin.Context) {
	collection, passed := c.Params.Get("collection")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collection is required. pass id in the route /:collection"})
		return
	}

	var query api.SearchCollectionParams
	err := c.BindJSON(&query)
	if err != nil {
		return
	}

	resp, err := a.paydash.Search(collection, &query)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
