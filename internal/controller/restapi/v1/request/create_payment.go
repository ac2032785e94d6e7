package request

import "github.com/shopspring/decimal"

type CreatePayment struct {
	Amount   decimal.Decimal `json:"amount" example:"10.50"`
	Currency string          `json:"currency" example:"USD"`
}
