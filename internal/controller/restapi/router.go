package restapi

import (
	"github.com/andreyxaxa/payments-outbox/config"
	v1 "github.com/andreyxaxa/payments-outbox/internal/controller/restapi/v1"
	"github.com/andreyxaxa/payments-outbox/internal/dto"
	"github.com/andreyxaxa/payments-outbox/internal/usecase"
	"github.com/andreyxaxa/payments-outbox/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/google/uuid"
)

// @title Payments outbox
// @version 1.0.0
// @host localhost:8080
// @BasePath /
func NewRouter(
	app *fiber.App,
	cfg *config.Config,
	payments usecase.PaymentUseCase,
	outbox usecase.OutboxUseCase,
	l logger.Interface,
) {
	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Header:     dto.HeaderCorrelationID,
		Generator:  uuid.NewString,
		ContextKey: v1.CorrelationIDLocal,
	}))

	// Swagger
	if cfg.Swagger.Enabled {
		app.Get("/swagger/*", swagger.HandlerDefault)
	}

	// Routers
	apiV1Group := app.Group("/v1")
	{
		v1.NewPaymentRoutes(apiV1Group, payments, l)
	}

	healthGroup := app.Group("/healthz")
	{
		v1.NewHealthRoutes(healthGroup, outbox, l, cfg.Health.DegradedPending, cfg.Health.UnhealthyPending)
	}
}
