package response

type CreatePayment struct {
	ID string `json:"id"`
}

type Payment struct {
	ID            string  `json:"id"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	FailureReason *string `json:"failure_reason,omitempty"`
}
