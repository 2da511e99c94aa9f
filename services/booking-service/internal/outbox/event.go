package outbox

// Topics this service publishes. The Kafka topic name equals EventType
// (event per topic).
const (
	BookingCreated   = "booking.created.v1"
	BookingConfirmed = "booking.confirmed.v1"
	BookingCancelled = "booking.cancelled.v1"
	SeriesEnded      = "booking.series.ended.v1"
)

// Event is the domain event envelope written to the outbox table inside
// the same transaction as the state change it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
