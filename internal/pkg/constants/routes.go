package constants

// Static route constants
const (
	APIRoute               = "/api"
	MetricsRoute           = "/metrics"
	WebhookRevenueCatRoute = "/webhooks/revenuecat"
)
