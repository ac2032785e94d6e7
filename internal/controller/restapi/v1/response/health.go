package response

type OutboxHealth struct {
	Status  string `json:"status"` // healthy, degraded, unhealthy
	Pending int64  `json:"pending"`
	Failed  int64  `json:"failed"`
}
