package dto

type ProcessResult int

const (
	Processed ProcessResult = iota + 1
	AlreadyProcessed
)

func (r ProcessResult) String() string {
	switch r {
	case Processed:
		return "processed"
	case AlreadyProcessed:
		return "already_processed"
	default:
		return "unknown"
	}
}

// BatchResult summarizes one outbox publishing pass.
type BatchResult struct {
	Claimed   int
	Published int
	Retried   int
	Failed    int
	Deferred  int
	// Stopped is set when a publish failure cut the batch short.
	Stopped bool
}

type OutboxStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
}
