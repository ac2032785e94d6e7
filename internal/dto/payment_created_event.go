package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const PaymentCreatedEventVersion = 1

// PaymentCreatedEvent is the payload published to the payment-created topic.
// Amount is marshalled as an exact decimal string.
type PaymentCreatedEvent struct {
	PaymentID uuid.UUID       `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	Version   int             `json:"version"`
}
