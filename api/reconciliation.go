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
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	paydash "github.com/jingkai27/payments-dashboard"
	model2 "github.com/jingkai27/payments-dashboard/api/model"
	"github.com/jingkai27/payments-dashboard/internal/apierror"

	"github.com/gin-gonic/gin"
)

// StartReconciliation kicks off a background reconciliation run over the
// settlement records in the body and returns the report id immediately.
func (a Api) StartReconciliation(c *gin.Context) {
	var body model2.StartReconciliation
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := body.ValidateStartReconciliation(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	reportID, err := a.paydash.StartReconciliation(c.Request.Context(), body.ToReconcileRequest())
	if err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"report_id": reportID})
}

// UploadSettlementFile accepts a provider settlement file (CSV or JSON) as
// multipart form data, parses it and reconciles the window synchronously.
// Form fields: provider_code, window_start, window_end, merchant_id.
func (a Api) UploadSettlementFile(c *gin.Context) {
	providerCode := c.PostForm("provider_code")
	windowStart, err := parseWindowTime(c.PostForm("window_start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_start must be RFC3339 or YYYY-MM-DD"})
		return
	}
	windowEnd, err := parseWindowTime(c.PostForm("window_end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_end must be RFC3339 or YYYY-MM-DD"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed"})
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			logrus.Error(err)
		}
	}()

	records, err := paydash.ParseSettlementFile(file, header.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := a.paydash.Reconcile(c.Request.Context(), paydash.ReconcileRequest{
		MerchantID:   c.PostForm("merchant_id"),
		ProviderCode: providerCode,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		Records:      records,
	})
	if err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// GenerateMockSettlement projects a window of internal transactions into a
// settlement CSV, with a fraction perturbed to synthesize discrepancies.
// Drill tooling: the output feeds straight back into the upload route.
func (a Api) GenerateMockSettlement(c *gin.Context) {
	windowStart, err := parseWindowTime(c.Query("window_start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_start must be RFC3339 or YYYY-MM-DD"})
		return
	}
	windowEnd, err := parseWindowTime(c.Query("window_end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_end must be RFC3339 or YYYY-MM-DD"})
		return
	}
	seed, _ := strconv.ParseInt(c.Query("seed"), 10, 64)

	records, err := a.paydash.GenerateMockSettlement(c.Request.Context(),
		c.Query("merchant_id"), c.Query("provider"), windowStart, windowEnd, seed)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	var buf bytes.Buffer
	if err := paydash.WriteSettlementCSV(&buf, records); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", "attachment; filename=settlement.csv")
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}

func (a Api) GetReconciliationReport(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.paydash.GetReconciliationReport(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ListReconciliationReports(c *gin.Context) {
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

	resp, err := a.paydash.ListReconciliationReports(c.Request.Context(), c.Query("merchant_id"), limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ResolveDiscrepancy attaches a reviewer's resolution to one finding.
// Resolving the last open discrepancy completes the report.
func (a Api) ResolveDiscrepancy(c *gin.Context) {
	reportID := c.Param("id")
	discrepancyID := c.Param("discrepancy_id")
	if reportID == "" || discrepancyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "report and discrepancy ids are required"})
		return
	}

	var body model2.ResolveDiscrepancy
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := body.ValidateResolveDiscrepancy(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.paydash.ResolveDiscrepancy(c.Request.Context(), reportID, discrepancyID, body.ToResolution())
	if err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// parseWindowTime accepts RFC3339 timestamps or bare dates.
func parseWindowTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
