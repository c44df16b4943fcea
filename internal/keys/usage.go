package keys

import "time"

// UsageStats accumulates request, token, cost and latency counters for
// one credential. Counters only grow until an explicit reset.
type UsageStats struct {
	TotalRequests      int64     `json:"totalRequests"`
	SuccessfulRequests int64     `json:"successfulRequests"`
	FailedRequests     int64     `json:"failedRequests"`
	InputTokens        int64     `json:"inputTokens"`
	OutputTokens       int64     `json:"outputTokens"`
	TotalTokens        int64     `json:"totalTokens"`
	TotalCost          float64   `json:"totalCost"`
	AvgLatencyMs       float64   `json:"avgLatencyMs"`
	LastResetAt        time.Time `json:"lastResetAt"`

	// Rollups holds optional per-period aggregates keyed "day", "week",
	// "month".
	Rollups map[string]PeriodStats `json:"rollups,omitempty"`
}

// PeriodStats is a usage rollup for one period.
type PeriodStats struct {
	Requests int64     `json:"requests"`
	Tokens   int64     `json:"tokens"`
	Cost     float64   `json:"cost"`
	Since    time.Time `json:"since"`
}

// UsageSample is one observation recorded against a credential.
type UsageSample struct {
	Requests     int64
	Success      bool
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	Latency      time.Duration
}

// NewUsageStats returns zeroed stats anchored at now.
func NewUsageStats(now time.Time) *UsageStats {
	return &UsageStats{LastResetAt: now}
}

// Record folds one sample into the counters. The running latency average
// is weighted by the number of requests seen so far.
func (u *UsageStats) Record(s UsageSample) {
	requests := s.Requests
	if requests <= 0 {
		requests = 1
	}

	prevTotal := u.TotalRequests
	u.TotalRequests += requests
	if s.Success {
		u.SuccessfulRequests += requests
	} else {
		u.FailedRequests += requests
	}

	u.InputTokens += s.InputTokens
	u.OutputTokens += s.OutputTokens
	u.TotalTokens += s.InputTokens + s.OutputTokens
	u.TotalCost += s.Cost

	if s.Latency > 0 {
		sampleMs := float64(s.Latency.Milliseconds())
		if prevTotal == 0 {
			u.AvgLatencyMs = sampleMs
		} else {
			u.AvgLatencyMs = (u.AvgLatencyMs*float64(prevTotal) + sampleMs*float64(requests)) / float64(prevTotal+requests)
		}
	}
}

// Reset zeroes all counters and re-anchors the stats at now.
func (u *UsageStats) Reset(now time.Time) {
	*u = UsageStats{LastResetAt: now}
}
