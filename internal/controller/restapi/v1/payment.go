package v1

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/andreyxaxa/payments-outbox/internal/controller/restapi/v1/request"
	"github.com/andreyxaxa/payments-outbox/internal/controller/restapi/v1/response"
	"github.com/andreyxaxa/payments-outbox/internal/controller/restapi/v1/validate"
	"github.com/andreyxaxa/payments-outbox/internal/dto"
	"github.com/andreyxaxa/payments-outbox/internal/entity"
	"github.com/andreyxaxa/payments-outbox/pkg/types/errs"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// CorrelationIDLocal is the fiber locals key the request id middleware writes to.
const CorrelationIDLocal = "correlation_id"

// @Summary     Create payment
// @Description Stores a pending payment and its payment-created event in one transaction
// @Tags        payments
// @Accept      json
// @Produce     json
// @Param       X-Correlation-Id header string false "Correlation id, generated when absent"
// @Param       request body request.CreatePayment true "Payment"
// @Success     201 {object} response.CreatePayment
// @Failure     400 {object} response.Error "Invalid amount or currency"
// @Failure     500 {object} response.Error "Internal"
// @Router      /v1/payments [post]
func (r *V1) createPayment(ctx *fiber.Ctx) error {
	var body request.CreatePayment

	if err := ctx.BodyParser(&body); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid request body")
	}

	currency := strings.ToUpper(strings.TrimSpace(body.Currency))
	if !validate.CurrencyCode.MatchString(currency) {
		return errorResponse(ctx, http.StatusBadRequest, "currency must be a 3-letter ISO 4217 code")
	}

	p, err := r.payments.Create(ctx.UserContext(), body.Amount, currency, correlationID(ctx))
	if err != nil {
		if errors.Is(err, errs.ErrValidation) {
			return errorResponse(ctx, http.StatusBadRequest, validationMessage(err))
		}

		r.logger.Error(err, "restapi - v1 - createPayment")

		return errorResponse(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.Status(http.StatusCreated).JSON(response.CreatePayment{ID: p.ID.String()})
}

// @Summary     Get payment
// @Tags        payments
// @Produce     json
// @Param       id path string true "Payment id"
// @Success     200 {object} response.Payment
// @Failure     400 {object} response.Error "Malformed id"
// @Failure     404 {object} response.Error "Not found"
// @Failure     500 {object} response.Error "Internal"
// @Router      /v1/payments/{id} [get]
func (r *V1) getPayment(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid payment id")
	}

	p, err := r.payments.GetByID(ctx.UserContext(), id)
	if err != nil {
		if errors.Is(err, errs.ErrRecordNotFound) {
			return errorResponse(ctx, http.StatusNotFound, "payment not found")
		}

		r.logger.Error(err, "restapi - v1 - getPayment")

		return errorResponse(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.Status(http.StatusOK).JSON(response.Payment{
		ID:            p.ID.String(),
		Amount:        p.Amount.StringFixed(entity.AmountScale),
		Currency:      p.Currency,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt.Format(time.RFC3339Nano),
		FailureReason: p.FailureReason,
	})
}

func correlationID(ctx *fiber.Ctx) *string {
	if v, ok := ctx.Locals(CorrelationIDLocal).(string); ok && v != "" {
		return &v
	}

	if v := ctx.Get(dto.HeaderCorrelationID); v != "" {
		return &v
	}

	return nil
}

func validationMessage(err error) string {
	for _, known := range []error{
		entity.ErrAmountNotPositive,
		entity.ErrAmountPrecision,
		entity.ErrCurrencyRequired,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}

	return errs.ErrValidation.Error()
}
