package constants

// Device status values stored in the devices collection.
const (
	StatusUnregistered = "unregistered"
	StatusOnline       = "online"
	StatusOffline      = "offline"
)

// Acknowledgment status values for data_received replies.
const (
	AckSuccess = "success"
	AckError   = "error"
)
