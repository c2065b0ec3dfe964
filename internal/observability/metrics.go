package observability

const (
	MUsecaseRequests     MetricKey = "usecase_requests_total"
	MUsecaseDuration     MetricKey = "usecase_duration_seconds"
	MHTTPRequests        MetricKey = "http_requests_total"
	MHTTPRequestDuration MetricKey = "http_request_duration_seconds"
	MOutboxDispatched    MetricKey = "outbox_events_dispatched_total"
	MOutboxDead          MetricKey = "outbox_events_dead_total"
	MOutboxDuration      MetricKey = "outbox_dispatch_duration_seconds"
)
