package alert

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["halt", "human_review_required", "bias_flag"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp  string  `json:"timestamp"`
	SessionID  string  `json:"session_id"`
	StepID     uint64  `json:"step_id"`
	Decision   string  `json:"decision"`
	Trigger    string  `json:"trigger"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	PolicyHash string  `json:"policy_hash"`
}
