package dto

// Kafka and HTTP header names shared by the publisher, the consumer and the API.
const (
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderMessageID     = "X-Outbox-Message-Id"
	HeaderErrorMessage  = "X-Error-Message"
	HeaderOriginalTopic = "X-Original-Topic"
)
