package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// WebhookQueueItem represents a webhook event awaiting processing
type WebhookQueueItem struct {
	ID   int64
	Data json.RawMessage
}

// EnqueueWebhook adds a webhook event to the processing queue
func (db *DB) EnqueueWebhook(data json.RawMessage) (int64, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	result, err := db.conn.Exec(`
		INSERT INTO webhook_queue (data, created_at) VALUES (?, ?)
	`, string(data), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue webhook: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue item id: %w", err)
	}
	return id, nil
}

// DequeueWebhook retrieves and deletes the oldest webhook from the
// queue. Returns nil when the queue is empty.
func (db *DB) DequeueWebhook() (*WebhookQueueItem, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var item WebhookQueueItem
	var data string
	err = tx.QueryRow(`
		SELECT id, data FROM webhook_queue ORDER BY id ASC LIMIT 1
	`).Scan(&item.ID, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook queue: %w", err)
	}
	item.Data = json.RawMessage(data)

	if _, err := tx.Exec(`DELETE FROM webhook_queue WHERE id = ?`, item.ID); err != nil {
		return nil, fmt.Errorf("failed to delete webhook from queue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &item, nil
}

// GetQueueLength returns the number of items in the webhook queue
func (db *DB) GetQueueLength() (int, error) {
	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM webhook_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return count, nil
}
