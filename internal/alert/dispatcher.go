package alert

// Dispatcher fans out alert events to the configured webhook endpoints.
// Delivery runs in the background; the submit pipeline never waits on a
// webhook.
type Dispatcher struct {
	configs []AlertConfig
	send    func(AlertConfig, AlertEvent) error
}

// NewDispatcher builds a Dispatcher from the policy config's alerts
// section. Returns nil when no endpoints are configured; callers
// nil-check before dispatching.
func NewDispatcher(configs []AlertConfig) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs, send: Send}
}

// Dispatch delivers the event to every endpoint subscribed to it. An
// endpoint subscribes by listing the event's decision ("halt",
// "human_review_required") or its trigger ("policy_violation",
// "low_confidence", "bias_flag") in its Events.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	for _, cfg := range d.configs {
		if !event.matches(cfg.Events) {
			continue
		}
		go d.send(cfg, event)
	}
}

func (e AlertEvent) matches(subscribed []string) bool {
	for _, s := range subscribed {
		if s == e.Decision || (e.Trigger != "" && s == e.Trigger) {
			return true
		}
	}
	return false
}
