package v1

import (
	"github.com/andreyxaxa/payments-outbox/internal/usecase"
	"github.com/andreyxaxa/payments-outbox/pkg/logger"
	"github.com/gofiber/fiber/v2"
)

func NewPaymentRoutes(apiV1Group fiber.Router, payments usecase.PaymentUseCase, l logger.Interface) {
	r := &V1{payments: payments, logger: l}

	{
		apiV1Group.Post("/payments", r.createPayment)
		apiV1Group.Get("/payments/:id", r.getPayment)
	}
}

func NewHealthRoutes(
	healthGroup fiber.Router,
	outbox usecase.OutboxUseCase,
	l logger.Interface,
	degradedPending int64,
	unhealthyPending int64,
) {
	h := &Health{
		outbox:           outbox,
		logger:           l,
		degradedPending:  degradedPending,
		unhealthyPending: unhealthyPending,
	}

	{
		healthGroup.Get("/outbox", h.outboxHealth)
	}
}
