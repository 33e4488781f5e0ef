package db

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryRecord is one row of the delivery ledger: the durable,
// queryable record of a notification job. Intake writes a provisional
// queued row; the worker upserts the terminal outcome over it.
type DeliveryRecord struct {
	ID          uuid.UUID  `json:"id"`
	OwnerUserID *uuid.UUID `json:"owner_user_id,omitempty"`
	Channel     string     `json:"channel"`
	Recipient   string     `json:"recipient"`
	Subject     string     `json:"subject,omitempty"`
	Body        string     `json:"body"`
	Status      string     `json:"status"`
	Error       *string    `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
