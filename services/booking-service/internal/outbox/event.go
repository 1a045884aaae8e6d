package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (one topic per event type).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Topics emitted by the booking engine.
const (
	TopicOpportunityOffered = "booking.opportunity.offered.v1"
	TopicOpportunityClosed  = "booking.opportunity.closed.v1"
	TopicRequestAssigned    = "booking.request.assigned.v1"
	TopicRequestCancelled   = "booking.request.cancelled.v1"
)
