package jobs

// WebhookArgs is one delivery of a serialized envelope to one webhook.
type WebhookArgs struct {
	WebhookID      string `json:"webhook_id" river:"unique"`
	OrganizationID string `json:"organization_id"`
	EventID        string `json:"event_id" river:"unique"`
	Event          string `json:"event"`
	URL            string `json:"url"`
	Secret         string `json:"secret"`
	// Payload is the envelope JSON exactly as it is signed and sent. It is
	// kept as a string so jsonb storage cannot reorder its keys.
	Payload string `json:"payload"`
	// Test marks admin-initiated test sends, which leave failure counters alone.
	Test bool `json:"test,omitempty"`
}

// Kind returns the job type name
func (WebhookArgs) Kind() string { return "webhook_delivery" }
