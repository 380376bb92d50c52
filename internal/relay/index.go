package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// NoExclusion disables sender filtering in SendMessage. Negative so it can
// never collide with a real user id.
const NoExclusion UserID = -1

// Index is the bidirectional membership index: which users are members of
// each channel, and the delivery handle for each registered user. All
// mutation goes through AddUser and RemoveUser so the two maps stay
// consistent under every connect, disconnect and publish path.
type Index struct {
	logger   *zap.Logger
	notifier BusNotifier

	mu          sync.RWMutex
	channels    map[ChannelID]map[UserID]struct{}
	connections map[UserID]DeliveryHandle
}

func NewIndex(
	logger *zap.Logger,
	notifier BusNotifier,
) *Index {
	return &Index{
		logger:      logger,
		notifier:    notifier,
		channels:    make(map[ChannelID]map[UserID]struct{}),
		connections: make(map[UserID]DeliveryHandle),
	}
}

func (i *Index) IsRegistered(userId UserID) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	_, ok := i.connections[userId]

	return ok
}

// AddUser registers a user's delivery handle and inserts it into the member
// set of every given channel. A second call for an already-registered user is
// a no-op and reports false; only the caller that got true owns the entry and
// may later remove it. Bus subscriptions are ensured after the lock is
// released; a subscribe failure never blocks local registration.
func (i *Index) AddUser(ctx context.Context, userId UserID, channelIds []ChannelID, handle DeliveryHandle) bool {
	i.mu.Lock()

	if _, ok := i.connections[userId]; ok {
		i.mu.Unlock()

		i.logger.Debug("user already registered, ignoring join",
			zap.Int64("userId", int64(userId)))

		return false
	}

	for _, channelId := range channelIds {
		members, ok := i.channels[channelId]
		if !ok {
			members = make(map[UserID]struct{})
			i.channels[channelId] = members
		}

		members[userId] = struct{}{}
	}

	i.connections[userId] = handle

	i.mu.Unlock()

	i.notifier.EnsureSubscribed(ctx, channelIds)

	return true
}

// RemoveUser deletes the user's handle and removes it from every channel's
// member set. Channels left without members are dropped and reported to the
// notifier for unsubscription. Safe to call for an unregistered user.
func (i *Index) RemoveUser(ctx context.Context, userId UserID) {
	i.mu.Lock()

	if _, ok := i.connections[userId]; !ok {
		i.mu.Unlock()

		return
	}

	delete(i.connections, userId)

	var emptied []ChannelID

	for channelId, members := range i.channels {
		if _, ok := members[userId]; !ok {
			continue
		}

		delete(members, userId)
		if len(members) == 0 {
			delete(i.channels, channelId)
			emptied = append(emptied, channelId)
		}
	}

	i.mu.Unlock()

	if len(emptied) > 0 {
		i.notifier.Release(ctx, emptied)
	}
}

// SendMessage delivers payload to every member of the channel except
// excludeUserId (pass NoExclusion to deliver to all). The recipient list is
// snapshotted under the read lock and written outside it, so a slow client
// never stalls registrations. A failed delivery to one member is logged and
// does not stop the others; the broken connection cleans itself up through
// its own close path.
func (i *Index) SendMessage(channelId ChannelID, payload []byte, excludeUserId UserID) {
	i.mu.RLock()

	members, ok := i.channels[channelId]
	if !ok {
		i.mu.RUnlock()

		return
	}

	type recipient struct {
		userId UserID
		handle DeliveryHandle
	}

	recipients := make([]recipient, 0, len(members))
	for userId := range members {
		if excludeUserId != NoExclusion && userId == excludeUserId {
			continue
		}

		handle, ok := i.connections[userId]
		if !ok {
			panic("inconsistent state: channel member has no connection entry")
		}

		recipients = append(recipients, recipient{userId, handle})
	}

	i.mu.RUnlock()

	for _, r := range recipients {
		if err := r.handle.Deliver(payload); err != nil {
			i.logger.Warn("failed to deliver message to member",
				zap.Int64("userId", int64(r.userId)),
				zap.Int64("channelId", int64(channelId)),
				zap.Error(err))
		}
	}
}
