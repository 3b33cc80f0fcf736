package amqp

import (
	"encoding/json"
	"time"

	"budgetsync/internal/core"
	"budgetsync/internal/storage"
)

// SyncMessage announces a queued sync item. It only carries the queue id and
// enough context to log; the worker loads the item from the durable queue.
type SyncMessage struct {
	QueueID   int64             `json:"queue_id"`
	UserID    string            `json:"user_id"`
	Kind      core.Kind         `json:"kind"`
	EntityID  string            `json:"entity_id"`
	Operation storage.Operation `json:"operation"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewSyncMessage builds the message for a queue item
func NewSyncMessage(item storage.SyncItem) *SyncMessage {
	return &SyncMessage{
		QueueID:   item.ID,
		UserID:    item.UserID,
		Kind:      item.Kind,
		EntityID:  item.EntityID,
		Operation: item.Operation,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncMessageFromJSON creates a message from JSON bytes
func SyncMessageFromJSON(data []byte) (*SyncMessage, error) {
	var msg SyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
