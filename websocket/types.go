package websocket

// AllItems is the subscription key for clients that follow every job.
const AllItems = "all"

// Message types sent to clients
const (
	MessageProgress = "progress"
	MessageStatus   = "status"
	MessageComplete = "complete"
	MessageError    = "error"
)
