package v1

import (
	"github.com/andreyxaxa/payments-outbox/internal/usecase"
	"github.com/andreyxaxa/payments-outbox/pkg/logger"
)

type V1 struct {
	payments usecase.PaymentUseCase
	logger   logger.Interface
}

type Health struct {
	outbox usecase.OutboxUseCase
	logger logger.Interface

	degradedPending  int64
	unhealthyPending int64
}
