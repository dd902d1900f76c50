package models

import "time"

// QueueMessage is one durable entry on the CRAWLER_TASKS stream.
// Ownership belongs to whichever worker holds an unexpired lease; on expiry
// ownership reverts to the queue.
type QueueMessage struct {
	ID            string    `json:"id"`
	JobID         string    `badgerhold:"index" json:"job_id"`
	DedupKey      string    `badgerhold:"index" json:"dedup_key"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Priority      int       `json:"priority"`
	Leased        bool      `badgerhold:"index" json:"leased"`
	LeaseOwner    string    `json:"lease_owner,omitempty"`
	LeaseExpiry   time.Time `json:"lease_expiry,omitempty"`
	DeliveryCount int       `json:"delivery_count"`
	NotBefore     time.Time `json:"not_before,omitempty"` // nak-with-delay / retry scheduling
	CreatedAt     time.Time `json:"created_at"`
}
