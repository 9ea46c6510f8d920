package broker

// Internal order statuses. These are the lifecycle states orders.Order
// transitions through regardless of which broker implementation reports
// them.
const (
	StatusCreated         = "CREATED"
	StatusPendingSubmit   = "PENDING_SUBMIT"
	StatusAccepted        = "ACCEPTED"
	StatusRejected        = "REJECTED"
	StatusSubmitted       = "SUBMITTED"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusPendingCancel   = "PENDING_CANCEL"
	StatusCancelled       = "CANCELLED"
	StatusInactive        = "INACTIVE"
)

// MapBrokerStatus translates a broker-reported status string into the
// engine's internal status set. Unknown statuses map to "" so
// callers can detect and log a protocol violation instead of silently
// accepting a bogus transition.
func MapBrokerStatus(brokerStatus string) string {
	switch brokerStatus {
	case "PendingSubmit":
		return StatusPendingSubmit
	case "PreSubmitted", "ApiPending":
		return StatusAccepted
	case "Submitted":
		return StatusSubmitted
	case "Filled":
		return StatusFilled
	case "PartiallyFilled":
		return StatusPartiallyFilled
	case "ApiCancelled", "Cancelled":
		return StatusCancelled
	case "PendingCancel":
		return StatusPendingCancel
	case "Inactive":
		return StatusInactive
	default:
		return ""
	}
}
