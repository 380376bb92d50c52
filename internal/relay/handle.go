package relay

import "context"

// UserID identifies an authenticated user. Assigned by the identity service.
type UserID int64

// ChannelID identifies a broadcast channel.
type ChannelID int64

// DeliveryHandle is the writable endpoint for one connected user's outbound
// stream. At most one handle exists per registered user; delivery must not
// block the caller.
type DeliveryHandle interface {
	Deliver(payload []byte) error
}

// BusNotifier receives channel-interest changes from the index so the shared
// bus subscriptions can follow local membership.
type BusNotifier interface {
	EnsureSubscribed(ctx context.Context, channelIds []ChannelID)
	Release(ctx context.Context, channelIds []ChannelID)
}
