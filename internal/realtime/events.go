package realtime

// Event types published by the collaboration services. Handlers receive the
// full changed entity under Data.
const (
	EventMessageCreated = "message:created"
	EventMessageUpdated = "message:updated"
	EventMessageDeleted = "message:deleted"

	EventChannelCreated = "channel:created"
	EventChannelUpdated = "channel:updated"
	EventChannelDeleted = "channel:deleted"

	EventChannelRead = "channel:read"

	EventNotificationNew     = "notification:new"
	EventNotificationRead    = "notification:read"
	EventNotificationReadAll = "notification:read-all"
	EventNotificationDeleted = "notification:deleted"
)
