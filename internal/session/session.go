package session

import (
	"context"

	"github.com/chatrelay/chatrelay/internal/relay"
	"go.uber.org/zap"
)

const invalidFrameNotice = "Invalid message format"

type State int

const (
	StateUnauthenticated State = iota
	StateJoined
	StateClosed
)

// Transport is the duplex connection as the session sees it. ReadText blocks
// for the next inbound text frame; Close sends a close frame best-effort and
// tears the connection down. Implementations serialize their own writes.
type Transport interface {
	ReadText() ([]byte, error)
	WriteNotice(text string) error
	Close() error
}

// Registry is the slice of the membership index a session mutates. AddUser
// reports whether this caller won the registration; only the winning session
// owns the entry and may remove it.
type Registry interface {
	AddUser(ctx context.Context, userId relay.UserID, channelIds []relay.ChannelID, handle relay.DeliveryHandle) bool
	RemoveUser(ctx context.Context, userId relay.UserID)
}

type IdentityVerifier interface {
	Validate(ctx context.Context, token string, userId relay.UserID) (bool, error)
}

type ChannelDirectory interface {
	Channels(ctx context.Context, userId relay.UserID) ([]relay.ChannelID, error)
}

// Session drives one connection from open to close:
// Unauthenticated -> Joined -> Closed. It is the only writer of its own
// registry entry; fan-out only ever reads it.
type Session struct {
	logger    *zap.Logger
	transport Transport
	handle    relay.DeliveryHandle
	registry  Registry
	identity  IdentityVerifier
	directory ChannelDirectory

	state  State
	userId relay.UserID
}

func New(
	logger *zap.Logger,
	transport Transport,
	handle relay.DeliveryHandle,
	registry Registry,
	identity IdentityVerifier,
	directory ChannelDirectory,
) *Session {
	return &Session{
		logger:    logger,
		transport: transport,
		handle:    handle,
		registry:  registry,
		identity:  identity,
		directory: directory,
		state:     StateUnauthenticated,
	}
}

// Run reads frames until the session closes. A transport error in any state
// deregisters the user before the connection is torn down, so an in-flight
// fan-out never targets a closed handle for long.
func (s *Session) Run(ctx context.Context) {
	defer s.terminate(ctx)

	for s.state != StateClosed {
		raw, err := s.transport.ReadText()
		if err != nil {
			s.logger.Debug("transport closed", zap.Error(err))

			return
		}

		frame, err := DecodeFrame(raw)
		if err != nil {
			s.logger.Debug("malformed inbound frame", zap.Error(err))

			// A bad frame never costs the connection; if the transport is
			// really gone the next read will say so.
			if err := s.transport.WriteNotice(invalidFrameNotice); err != nil {
				s.logger.Debug("failed to send error notice", zap.Error(err))
			}

			continue
		}

		switch m := frame.(type) {
		case JoinMessage:
			s.handleJoin(ctx, m)
		case LeaveMessage:
			s.handleLeave(ctx)
		default:
			s.logger.Error("unhandled frame kind")
		}
	}
}

func (s *Session) handleJoin(ctx context.Context, m JoinMessage) {
	userId := relay.UserID(m.UserId)

	if s.state == StateJoined {
		// AddUser is idempotent, so a repeated join for the same user is
		// harmless. A different user id on a live session is not a rebind.
		if userId == s.userId {
			s.registry.AddUser(ctx, userId, nil, s.handle)

			return
		}

		s.logger.Warn("join for a different user on a joined session",
			zap.Int64("userId", m.UserId))

		return
	}

	valid, err := s.identity.Validate(ctx, m.Token, userId)
	if err != nil {
		// Fail closed: an unreachable identity service grants nothing.
		s.logger.Warn("identity check failed", zap.Error(err))
		s.state = StateClosed

		return
	}

	if !valid {
		s.logger.Info("credential rejected", zap.Int64("userId", m.UserId))
		s.state = StateClosed

		return
	}

	channelIds, err := s.directory.Channels(ctx, userId)
	if err != nil {
		s.logger.Warn("channel directory lookup failed", zap.Error(err))
		s.state = StateClosed

		return
	}

	if !s.registry.AddUser(ctx, userId, channelIds, s.handle) {
		// Another connection already holds this user's registration. This
		// session never becomes Joined, so its teardown cannot evict the
		// live one.
		s.logger.Warn("user already registered on another connection",
			zap.Int64("userId", m.UserId))

		return
	}

	s.userId = userId
	s.state = StateJoined

	s.logger.Info("user joined",
		zap.Int64("userId", m.UserId),
		zap.Int("channels", len(channelIds)))
}

func (s *Session) handleLeave(ctx context.Context) {
	if s.state == StateJoined {
		s.registry.RemoveUser(ctx, s.userId)
	}

	s.state = StateClosed

	s.logger.Info("user left")
}

// terminate deregisters (a no-op while unauthenticated) and then closes the
// transport, in that order.
func (s *Session) terminate(ctx context.Context) {
	if s.state == StateJoined {
		s.registry.RemoveUser(ctx, s.userId)
	}

	s.state = StateClosed

	if err := s.transport.Close(); err != nil {
		s.logger.Debug("transport close failed", zap.Error(err))
	}
}
