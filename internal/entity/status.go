package entity

type (
	PaymentStatus string
	OutboxStatus  string
)

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentProcessed PaymentStatus = "processed"
	PaymentFailed    PaymentStatus = "failed"
)

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxProcessed  OutboxStatus = "processed"
	OutboxFailed     OutboxStatus = "failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentProcessed, PaymentFailed},
}

// processing -> pending is the rollback taken when a publish attempt fails.
var outboxTransitions = map[OutboxStatus][]OutboxStatus{
	OutboxPending:    {OutboxProcessing, OutboxFailed},
	OutboxProcessing: {OutboxProcessed, OutboxPending, OutboxFailed},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	for _, allowed := range outboxTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OutboxStatus) IsTerminal() bool {
	return len(outboxTransitions[s]) == 0
}
