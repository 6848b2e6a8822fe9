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
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"

	"github.com/jingkai27/payments-dashboard/config"
	redis_db "github.com/jingkai27/payments-dashboard/internal/redis-db"
)

// Queue hands slow work to asynq: merchant webhook delivery and search
// indexing both ride it so API latency never includes either.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes the asynq client and inspector against the
// configured redis.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queueIndexData enqueues a document upsert for the search worker. A
// deployment without typesense configured skips indexing silently.
func (q *Queue) queueIndexData(id string, collection string, data interface{}) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	if cfg.TypeSense.Dns == "" {
		return nil
	}

	payload := map[string]interface{}{
		"collection": collection,
		"payload":    data,
	}

	IPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{asynq.Queue(cfg.Queue.IndexQueue)}
	task := asynq.NewTask(cfg.Queue.IndexQueue, IPayload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued index data: %+v", id)
	return nil
}

// queueWebhook enqueues a merchant webhook notification. The task ID is
// the event ID so a double enqueue of the same event collapses into one
// delivery.
func (q *Queue) queueWebhook(event NewWebhook) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	if cfg.Notification.Webhook.Url == "" {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(event.EventID),
		asynq.Queue(cfg.Queue.WebhookQueue),
		asynq.MaxRetry(5),
	}
	task := asynq.NewTask(cfg.Queue.WebhookQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		if err == asynq.ErrTaskIDConflict {
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued webhook: %s", event.Event)
	return nil
}
