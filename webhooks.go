/*
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
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/model"
)

// NewWebhook is one merchant notification: the event name and the object
// that triggered it.
type NewWebhook struct {
	EventID string      `json:"event_id"`
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// getEventFromStatus maps a transaction status to the event name the
// merchant receives.
func getEventFromStatus(status string) string {
	switch strings.ToLower(status) {
	case strings.ToLower(model.StatusPending):
		return "payment.pending"
	case strings.ToLower(model.StatusProcessing):
		return "payment.processing"
	case strings.ToLower(model.StatusCompleted):
		return "payment.completed"
	case strings.ToLower(model.StatusFailed):
		return "payment.failed"
	case strings.ToLower(model.StatusCancelled):
		return "payment.cancelled"
	case strings.ToLower(model.StatusRefunded):
		return "payment.refunded"
	default:
		return "payment.unknown"
	}
}

// signWebhookPayload computes the X-Paydash-Signature value: HMAC-SHA256
// over the raw body, hex encoded. Merchants verify with their signing
// secret the same way our adapters verify inbound provider webhooks.
func signWebhookPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func errForStatus(status int) error {
	return fmt.Errorf("webhook endpoint returned status %d", status)
}

// processHTTP delivers one webhook to the merchant endpoint. Non-2xx
// responses are returned as errors so asynq retries the task.
func processHTTP(data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Println("Error marshaling data:", err)
		return err
	}

	operation := func() error {
		req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, bytes.NewBuffer(jsonData))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if conf.Notification.Webhook.SigningSecret != "" {
			req.Header.Set("X-Paydash-Signature", signWebhookPayload(jsonData, conf.Notification.Webhook.SigningSecret))
		}
		for key, value := range conf.Notification.Webhook.Headers {
			req.Header.Set(key, value)
		}

		client := &http.Client{Timeout: 15 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func(Body io.ReadCloser) {
			if err := Body.Close(); err != nil {
				logrus.Error(err)
			}
		}(resp.Body)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// the endpoint rejected the payload, retrying will not help
			return backoff.Permanent(errForStatus(resp.StatusCode))
		}
		return errForStatus(resp.StatusCode)
	}

	err = backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4))
	if err != nil {
		log.Printf("Webhook delivery failed for %s: %v", data.Event, err)
		return err
	}

	log.Printf("Webhook notification sent successfully: %s", data.Event)
	return nil
}

// ProcessWebhook is the asynq handler for the webhook queue.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing webhook: %+v\n", payload.Event)
	return processHTTP(payload)
}
