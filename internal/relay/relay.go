// Package relay persists and forwards opaque encrypted envelopes for
// direct and group conversations. It enforces group authorization and
// credit admission, and never emits a delivery notification before the
// durable write has committed.
package relay

import (
	"context"

	"github.com/pkg/errors"

	"github.com/atharvavshelke/SecureConnect/internal/logging"
	"github.com/atharvavshelke/SecureConnect/internal/models"
	"github.com/atharvavshelke/SecureConnect/internal/protocol"
	"github.com/atharvavshelke/SecureConnect/internal/store"
)

var (
	ErrNotAuthenticated = errors.New("Not authenticated")
	ErrAdminSender      = errors.New("Admin accounts cannot send messages")
	ErrNotMember        = errors.New("Not a member of this group")
	ErrNoCredits        = errors.New("Insufficient credits. Please purchase more credits.")
)

// Sender identifies the authenticated connection performing an operation.
type Sender struct {
	ID       uint
	Username string
	IsAdmin  bool
}

// Ledger is the external economic gate; Debit must be atomic
// decrement-if-positive.
type Ledger interface {
	Debit(ctx context.Context, userID uint) (int, error)
}

// Memberships answers group membership questions.
type Memberships interface {
	IsMember(ctx context.Context, groupID, userID uint) (bool, error)
}

// Messages persists envelopes and returns the canonical stored records.
type Messages interface {
	SaveDirect(ctx context.Context, from, to uint, envelope string) (*models.Message, error)
	SaveGroup(ctx context.Context, groupID, from uint, envelope string) (*models.GroupMessage, error)
}

// Notifier delivers events to live connections.
type Notifier interface {
	SendToUser(userID uint, ev protocol.Event) bool
	BroadcastGroup(groupID uint, ev protocol.Event, exceptUserID uint)
	Subscribe(userID, groupID uint)
}

type Service struct {
	ledger   Ledger
	members  Memberships
	messages Messages
	notify   Notifier
}

func NewService(ledger Ledger, members Memberships, messages Messages, notify Notifier) *Service {
	return &Service{
		ledger:   ledger,
		members:  members,
		messages: messages,
		notify:   notify,
	}
}

// SendDirect admits, persists and forwards a direct message. The message
// is stored even when the recipient is offline; the sender is always
// acknowledged with the stored record so its optimistic copy can be
// reconciled against the server id and timestamp.
func (s *Service) SendDirect(ctx context.Context, from Sender, toUserID uint, envelope string) error {
	if from.ID == 0 {
		return ErrNotAuthenticated
	}
	if from.IsAdmin {
		return ErrAdminSender
	}

	if _, err := s.ledger.Debit(ctx, from.ID); err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			return ErrNoCredits
		}
		return errors.Wrap(err, "credit admission")
	}

	msg, err := s.messages.SaveDirect(ctx, from.ID, toUserID, envelope)
	if err != nil {
		return errors.Wrap(err, "persist message")
	}

	data := protocol.DirectMessage{
		ID:               msg.ID,
		FromUserID:       from.ID,
		FromUsername:     from.Username,
		ToUserID:         toUserID,
		EncryptedContent: envelope,
		Timestamp:        msg.CreatedAt,
	}

	if !s.notify.SendToUser(toUserID, protocol.Event{Type: protocol.EventReceiveMessage, Data: data}) {
		logging.Debugf("relay: user %d offline, message %d stored for retrieval", toUserID, msg.ID)
	}
	s.notify.SendToUser(from.ID, protocol.Event{Type: protocol.EventMessageSent, Data: data})
	return nil
}

// SendGroup admits, persists and broadcasts a group message to every
// connection subscribed to the group's room except the sender, which
// renders its own optimistic echo.
func (s *Service) SendGroup(ctx context.Context, from Sender, groupID uint, envelope string) error {
	if from.ID == 0 {
		return ErrNotAuthenticated
	}

	member, err := s.members.IsMember(ctx, groupID, from.ID)
	if err != nil {
		return errors.Wrap(err, "membership check")
	}
	if !member {
		return ErrNotMember
	}

	if _, err := s.ledger.Debit(ctx, from.ID); err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			return ErrNoCredits
		}
		return errors.Wrap(err, "credit admission")
	}

	msg, err := s.messages.SaveGroup(ctx, groupID, from.ID, envelope)
	if err != nil {
		return errors.Wrap(err, "persist group message")
	}

	s.notify.BroadcastGroup(groupID, protocol.Event{
		Type: protocol.EventReceiveGroupMessage,
		Data: protocol.GroupChatMessage{
			ID:               msg.ID,
			GroupID:          groupID,
			FromUserID:       from.ID,
			FromUsername:     from.Username,
			EncryptedContent: envelope,
			CreatedAt:        msg.CreatedAt,
		},
	}, from.ID)
	return nil
}

// Subscribe joins the sender's connection to a group's broadcast room
// after a membership check. Idempotent.
func (s *Service) Subscribe(ctx context.Context, from Sender, groupID uint) error {
	if from.ID == 0 {
		return ErrNotAuthenticated
	}

	member, err := s.members.IsMember(ctx, groupID, from.ID)
	if err != nil {
		return errors.Wrap(err, "membership check")
	}
	if !member {
		return ErrNotMember
	}

	s.notify.Subscribe(from.ID, groupID)
	return nil
}
