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

package paydash

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"math/rand"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/pkg/errors"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/model"
)

// Provider-side settlement statuses as they appear in settlement files.
const (
	SettlementStatusSettled  = "settled"
	SettlementStatusRefunded = "refunded"
	SettlementStatusFailed   = "failed"
)

// ParseSettlementFile reads a provider settlement file and returns its
// records. The format is detected from the filename extension first and the
// content second; CSV files map columns by header name, JSON files carry an
// array of records.
func ParseSettlementFile(reader io.Reader, filename string) ([]*model.SettlementRecord, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "error reading settlement file")
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	fileType, err := detectFileType(head, filename)
	if err != nil {
		return nil, errors.Wrap(err, "error detecting settlement file type")
	}

	switch fileType {
	case "text/csv", "text/csv; charset=utf-8":
		return parseSettlementCSV(bytes.NewReader(data))
	case "application/json":
		return parseSettlementJSON(bytes.NewReader(data))
	default:
		return nil, errors.Errorf("unsupported settlement file type: %s", fileType)
	}
}

// detectFileType attempts to detect the file type based on its extension or content.
func detectFileType(data []byte, filename string) (string, error) {
	if mimeType := detectByExtension(filename); mimeType != "" {
		return mimeType, nil
	}
	return detectByContent(data)
}

func detectByExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return mime.TypeByExtension(ext)
}

func detectByContent(data []byte) (string, error) {
	mimeType := http.DetectContentType(data)

	switch mimeType {
	case "application/octet-stream", "text/plain", "text/plain; charset=utf-8":
		return analyzeTextContent(data)
	case "text/csv; charset=utf-8":
		return "text/csv", nil
	default:
		return mimeType, nil
	}
}

func analyzeTextContent(data []byte) (string, error) {
	if looksLikeCSV(data) {
		return "text/csv", nil
	}
	if json.Valid(data) {
		return "application/json", nil
	}
	return "text/plain", nil
}

// looksLikeCSV checks for multiple lines with a consistent comma-separated
// field count.
func looksLikeCSV(data []byte) bool {
	lines := bytes.Split(data, []byte("\n"))
	if len(lines) < 2 {
		return false
	}

	fields := bytes.Count(lines[0], []byte(",")) + 1
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		if bytes.Count(line, []byte(","))+1 != fields {
			return false
		}
	}

	return fields > 1
}

// parseSettlementCSV maps CSV columns by header name and parses each row
// into a settlement record. Rows that fail to parse are collected and
// reported together so one bad row does not hide the rest.
func parseSettlementCSV(reader io.Reader) ([]*model.SettlementRecord, error) {
	csvReader := csv.NewReader(bufio.NewReader(reader))

	headers, err := csvReader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "error reading settlement CSV headers")
	}

	columnMap, err := settlementColumnMap(headers)
	if err != nil {
		return nil, err
	}

	var records []*model.SettlementRecord
	var errs []error
	rowNum := 1

	for {
		row, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "error reading row %d", rowNum))
			continue
		}

		record, err := parseSettlementRow(row, columnMap, headers)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "error parsing row %d", rowNum))
			continue
		}
		records = append(records, record)
	}

	if len(errs) > 0 {
		return nil, errors.Errorf("encountered %d errors while parsing settlement CSV: %v", len(errs), errs)
	}

	return records, nil
}

// settlementColumnMap maps column names to their indices and verifies the
// required columns are present.
func settlementColumnMap(headers []string) (map[string]int, error) {
	requiredColumns := []string{"transaction_id", "amount", "currency", "status"}
	columnMap := make(map[string]int)

	for i, header := range headers {
		columnMap[strings.ToLower(strings.TrimSpace(header))] = i
	}

	for _, col := range requiredColumns {
		if _, exists := columnMap[col]; !exists {
			return nil, errors.Errorf("required column '%s' not found in settlement CSV", col)
		}
	}

	return columnMap, nil
}

func parseSettlementRow(row []string, columnMap map[string]int, headers []string) (*model.SettlementRecord, error) {
	if len(row) != len(headers) {
		return nil, errors.New("incorrect number of fields in record")
	}

	transactionID, err := getRequiredField(row, columnMap, "transaction_id")
	if err != nil {
		return nil, err
	}
	amountStr, err := getRequiredField(row, columnMap, "amount")
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(amountStr), 10)
	if !ok {
		return nil, errors.Errorf("invalid amount %q, expected minor units", amountStr)
	}
	currency, err := getRequiredField(row, columnMap, "currency")
	if err != nil {
		return nil, err
	}
	status, err := getRequiredField(row, columnMap, "status")
	if err != nil {
		return nil, err
	}

	record := &model.SettlementRecord{
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      strings.ToUpper(currency),
		Status:        strings.ToLower(status),
		RawRow:        make(map[string]interface{}, len(headers)),
	}

	if idx, ok := columnMap["record_id"]; ok && idx < len(row) {
		record.RecordID = strings.TrimSpace(row[idx])
	}
	if record.RecordID == "" {
		record.RecordID = model.GenerateUUIDWithSuffix("stl")
	}
	if idx, ok := columnMap["provider_code"]; ok && idx < len(row) {
		record.ProviderCode = strings.TrimSpace(row[idx])
	}
	if idx, ok := columnMap["settled_at"]; ok && idx < len(row) {
		record.SettledAt = parseTime(strings.TrimSpace(row[idx]))
	}

	for i, header := range headers {
		if i < len(row) {
			record.RawRow[strings.ToLower(strings.TrimSpace(header))] = row[i]
		}
	}

	return record, nil
}

// getRequiredField retrieves a field from a CSV record, ensuring it is not empty.
func getRequiredField(row []string, columnMap map[string]int, field string) (string, error) {
	if index, exists := columnMap[field]; exists && index < len(row) {
		value := strings.TrimSpace(row[index])
		if value == "" {
			return "", errors.Errorf("required field '%s' is empty", field)
		}
		return value, nil
	}
	return "", errors.Errorf("required field '%s' not found in record", field)
}

// parseTime parses RFC3339 first and falls back to a bare date. Returns the
// zero time when neither matches.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

// parseSettlementJSON decodes a JSON array of settlement records.
func parseSettlementJSON(reader io.Reader) ([]*model.SettlementRecord, error) {
	decoder := json.NewDecoder(reader)
	var records []*model.SettlementRecord
	if err := decoder.Decode(&records); err != nil {
		return nil, errors.Wrap(err, "error decoding settlement JSON")
	}

	for i, record := range records {
		if record.TransactionID == "" {
			return nil, errors.Errorf("settlement record %d is missing transaction_id", i+1)
		}
		if record.Amount == nil {
			return nil, errors.Errorf("settlement record %d (%s) is missing amount", i+1, record.TransactionID)
		}
		if record.RecordID == "" {
			record.RecordID = model.GenerateUUIDWithSuffix("stl")
		}
		record.Status = strings.ToLower(record.Status)
		record.Currency = strings.ToUpper(record.Currency)
	}

	return records, nil
}

// FetchSettlementFromS3 downloads a settlement file from S3 and parses it.
// An empty bucket falls back to the configured settlement bucket.
func FetchSettlementFromS3(ctx context.Context, bucket, key string) ([]*model.SettlementRecord, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if bucket == "" {
		bucket = cnf.S3BucketName
	}
	if bucket == "" {
		return nil, errors.New("no settlement bucket configured")
	}

	awsConfig := &aws.Config{
		Region:      aws.String(cnf.S3Region),
		Credentials: credentials.NewStaticCredentials(cnf.AwsAccessKeyId, cnf.AwsSecretAccessKey, ""),
	}
	if cnf.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(cnf.S3Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "error creating aws session")
	}

	object, err := s3.New(sess).GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error fetching settlement file s3://%s/%s", bucket, key)
	}
	defer func() {
		_ = object.Body.Close()
	}()

	return ParseSettlementFile(object.Body, key)
}

// GenerateMockSettlement projects the provider's transactions inside the
// window into settlement rows, then perturbs a slice of them the way real
// settlement files disagree with the books: amounts drift a few percent,
// statuses flip, records go missing, and the occasional row references a
// transaction nobody has heard of. The perturbation is seeded so a demo or
// test can reproduce the same file.
func (l *Paydash) GenerateMockSettlement(ctx context.Context, merchantID, providerCode string, windowStart, windowEnd time.Time, seed int64) ([]*model.SettlementRecord, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	transactions, err := l.datasource.GetTransactionsInWindow(ctx, providerCode, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	faker := gofakeit.New(seed)
	perturbRate := cnf.Reconciliation.MockPerturbRate

	var records []*model.SettlementRecord
	var currencies []string
	dropped := 0

	for _, txn := range transactions {
		if merchantID != "" && txn.MerchantID != merchantID {
			continue
		}
		status, ok := settlementStatusFor(txn.Status)
		if !ok {
			continue
		}

		record := &model.SettlementRecord{
			RecordID:      model.GenerateUUIDWithSuffix("stl"),
			TransactionID: txn.TransactionID,
			ProviderCode:  providerCode,
			Amount:        new(big.Int).Set(txn.SettledAmount()),
			Currency:      txn.SettledCurrency(),
			Status:        status,
			SettledAt:     settlementTimeFor(txn, windowEnd),
		}
		currencies = append(currencies, record.Currency)

		if rng.Float64() < perturbRate {
			switch rng.Intn(3) {
			case 0:
				jitterAmount(rng, record.Amount)
			case 1:
				record.Status = flipSettlementStatus(record.Status)
			case 2:
				dropped++
				continue
			}
		}
		records = append(records, record)
	}

	// A few rows reference transactions that do not exist internally, the
	// way an acquirer file sometimes does.
	fabricated := int(float64(len(records)) * perturbRate / 4)
	for i := 0; i < fabricated; i++ {
		currency := "USD"
		if len(currencies) > 0 {
			currency = currencies[rng.Intn(len(currencies))]
		}
		records = append(records, &model.SettlementRecord{
			RecordID:      fmt.Sprintf("stl_%s", faker.UUID()),
			TransactionID: fmt.Sprintf("txn_%s", faker.UUID()),
			ProviderCode:  providerCode,
			Amount:        big.NewInt(int64(rng.Intn(95000) + 500)),
			Currency:      currency,
			Status:        SettlementStatusSettled,
			SettledAt:     windowEnd,
		})
	}

	return records, nil
}

// settlementStatusFor maps an internal status to the provider-side label a
// settlement file would carry. Transactions the provider never settled have
// no row.
func settlementStatusFor(status string) (string, bool) {
	switch status {
	case model.StatusCompleted:
		return SettlementStatusSettled, true
	case model.StatusRefunded:
		return SettlementStatusRefunded, true
	case model.StatusFailed:
		return SettlementStatusFailed, true
	default:
		return "", false
	}
}

func settlementTimeFor(txn *model.Transaction, fallback time.Time) time.Time {
	if txn.CompletedAt != nil {
		return *txn.CompletedAt
	}
	if !txn.CreatedAt.IsZero() {
		return txn.CreatedAt
	}
	return fallback
}

// jitterAmount shifts the amount by 1 to 5 percent in either direction,
// always by at least one minor unit.
func jitterAmount(rng *rand.Rand, amount *big.Int) {
	percent := int64(rng.Intn(5) + 1)
	delta := new(big.Int).Mul(amount, big.NewInt(percent))
	delta.Div(delta, big.NewInt(100))
	if delta.Sign() == 0 {
		delta.SetInt64(1)
	}
	if rng.Intn(2) == 0 {
		amount.Add(amount, delta)
	} else {
		amount.Sub(amount, delta)
	}
}

func flipSettlementStatus(status string) string {
	switch status {
	case SettlementStatusSettled:
		return SettlementStatusFailed
	case SettlementStatusRefunded:
		return SettlementStatusSettled
	default:
		return SettlementStatusSettled
	}
}

// WriteSettlementCSV writes records in the same column layout
// ParseSettlementFile reads back.
func WriteSettlementCSV(w io.Writer, records []*model.SettlementRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"record_id", "transaction_id", "provider_code", "amount", "currency", "status", "settled_at"}); err != nil {
		return err
	}
	for _, record := range records {
		row := []string{
			record.RecordID,
			record.TransactionID,
			record.ProviderCode,
			record.Amount.String(),
			record.Currency,
			record.Status,
			record.SettledAt.Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
