package ledger

// Totals are aggregates over a filtered set of successful requests.
type Totals struct {
	Requests         int64   `json:"requests"`
	Cost             float64 `json:"cost"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	AvgDurationMS    float64 `json:"avg_duration_ms"`
}

// ModelBreakdown is a per-(model, provider) subtotal.
type ModelBreakdown struct {
	Model    string  `json:"model"`
	Provider string  `json:"provider"`
	Requests int64   `json:"requests"`
	Cost     float64 `json:"cost"`
	Tokens   int64   `json:"tokens"`
}

// ProviderBreakdown is a per-provider subtotal.
type ProviderBreakdown struct {
	Provider string  `json:"provider"`
	Requests int64   `json:"requests"`
	Cost     float64 `json:"cost"`
	Tokens   int64   `json:"tokens"`
}

// Performance holds per-model throughput metrics over requests that
// produced output.
type Performance struct {
	Model             string  `json:"model"`
	Requests          int64   `json:"requests"`
	AvgTokensPerSec   float64 `json:"avg_tokens_per_sec"`
	AvgDurationMS     float64 `json:"avg_duration_ms"`
	MinTokensPerSec   float64 `json:"min_tokens_per_sec"`
	MaxTokensPerSec   float64 `json:"max_tokens_per_sec"`
	AvgCostPerRequest float64 `json:"avg_cost_per_request"`
}

// ErrorEntry is one row of the recent-errors listing.
type ErrorEntry struct {
	Timestamp string `json:"timestamp"`
	Model     string `json:"model"`
	Error     string `json:"error"`
}

// ModelSlice is a model's share within a time bucket.
type ModelSlice struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Requests int64   `json:"requests"`
	Cost     float64 `json:"cost"`
}

// DailyBucket aggregates one local calendar day.
type DailyBucket struct {
	Date        string       `json:"date"`
	Requests    int64        `json:"requests"`
	Cost        float64      `json:"cost"`
	TotalTokens int64        `json:"total_tokens"`
	ByModel     []ModelSlice `json:"by_model"`
}

// HourlyBucket aggregates one local hour of day.
type HourlyBucket struct {
	Hour        int          `json:"hour"`
	Requests    int64        `json:"requests"`
	Cost        float64      `json:"cost"`
	TotalTokens int64        `json:"total_tokens"`
	ByModel     []ModelSlice `json:"by_model"`
}

// RequestRow is one request in the detailed listing.
type RequestRow struct {
	Timestamp        string  `json:"timestamp"`
	Model            string  `json:"model"`
	Provider         string  `json:"provider"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Cost             float64 `json:"cost"`
	DurationMS       int64   `json:"duration_ms"`
	RequestData      string  `json:"request_data"`
	ResponseData     string  `json:"response_data"`
}

// RequestPage is one page of rows plus whole-set aggregates. Total,
// TotalTokens, TotalCost and AvgCost always cover every row matching the
// filter, regardless of pagination.
type RequestPage struct {
	Requests    []RequestRow `json:"requests"`
	Total       int64        `json:"total"`
	TotalTokens int64        `json:"total_tokens"`
	TotalCost   float64      `json:"total_cost"`
	AvgCost     float64      `json:"avg_cost"`
	Offset      int          `json:"offset"`
	Limit       int          `json:"limit"`
}
