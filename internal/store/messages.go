package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/atharvavshelke/SecureConnect/internal/models"
)

// MessageStore persists the opaque envelopes. Writes are append-only; the
// only mutation anywhere is flipping the read flag on direct messages.
type MessageStore struct {
	db *gorm.DB
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// SaveDirect persists a direct message and returns the stored record with
// its server-assigned id and timestamp.
func (s *MessageStore) SaveDirect(ctx context.Context, from, to uint, envelope string) (*models.Message, error) {
	msg := models.Message{
		FromUser:         from,
		ToUser:           to,
		EncryptedContent: envelope,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, errors.Wrap(err, "save message")
	}
	return &msg, nil
}

// SaveGroup persists a group message.
func (s *MessageStore) SaveGroup(ctx context.Context, groupID, from uint, envelope string) (*models.GroupMessage, error) {
	msg := models.GroupMessage{
		GroupID:          groupID,
		FromUser:         from,
		EncryptedContent: envelope,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, errors.Wrap(err, "save group message")
	}
	return &msg, nil
}

// DirectHistory returns the full conversation between two users in
// chronological order, marking the other side's unread messages as read.
func (s *MessageStore) DirectHistory(ctx context.Context, userID, otherID uint) ([]models.Message, error) {
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("from_user = ? AND to_user = ? AND is_read = ?", otherID, userID, false).
		Update("is_read", true).Error
	if err != nil {
		return nil, errors.Wrap(err, "mark read")
	}

	var msgs []models.Message
	err = s.db.WithContext(ctx).
		Where("(from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?)",
			userID, otherID, otherID, userID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "load history")
	}
	return msgs, nil
}

// GroupHistory returns a group's messages in chronological order and
// advances the reader's last-read marker.
func (s *MessageStore) GroupHistory(ctx context.Context, groupID, readerID uint) ([]models.GroupMessage, error) {
	var msgs []models.GroupMessage
	err := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "load group history")
	}

	err = s.db.WithContext(ctx).
		Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, readerID).
		Update("last_read_at", time.Now()).Error
	if err != nil {
		return nil, errors.Wrap(err, "advance last read")
	}
	return msgs, nil
}
