package entity

// Outbound delivery status constants for Notification
const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
	NotificationStatusSkipped = "SKIPPED"
)

// Delivery channels
const (
	ChannelInApp    = "in_app"
	ChannelOutbound = "outbound"
)
