package v1

import (
	"net/http"

	"github.com/andreyxaxa/payments-outbox/internal/controller/restapi/v1/response"
	"github.com/gofiber/fiber/v2"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// @Summary     Outbox health
// @Description Reports the outbox backlog. A large pending backlog means the publisher is stuck or the broker is down
// @Tags        health
// @Produce     json
// @Success     200 {object} response.OutboxHealth "healthy or degraded"
// @Failure     503 {object} response.OutboxHealth "unhealthy"
// @Router      /healthz/outbox [get]
func (h *Health) outboxHealth(ctx *fiber.Ctx) error {
	stats, err := h.outbox.Stats(ctx.UserContext())
	if err != nil {
		h.logger.Error(err, "restapi - v1 - outboxHealth")

		return errorResponse(ctx, http.StatusServiceUnavailable, "outbox stats unavailable")
	}

	res := response.OutboxHealth{
		Status:  statusHealthy,
		Pending: stats.Pending,
		Failed:  stats.Failed,
	}
	code := http.StatusOK

	switch {
	case stats.Pending >= h.unhealthyPending:
		res.Status = statusUnhealthy
		code = http.StatusServiceUnavailable
	case stats.Pending >= h.degradedPending:
		res.Status = statusDegraded
	}

	return ctx.Status(code).JSON(res)
}
