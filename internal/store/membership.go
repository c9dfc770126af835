package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/atharvavshelke/SecureConnect/internal/models"
)

// MembershipStore answers the narrow questions the realtime services ask
// about groups: does this group exist, who belongs to it, and in what role.
type MembershipStore struct {
	db *gorm.DB
}

func NewMembershipStore(db *gorm.DB) *MembershipStore {
	return &MembershipStore{db: db}
}

func (s *MembershipStore) IsMember(ctx context.Context, groupID, userID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&n).Error
	if err != nil {
		return false, errors.Wrap(err, "membership lookup")
	}
	return n > 0, nil
}

func (s *MembershipStore) Role(ctx context.Context, groupID, userID uint) (string, error) {
	var m models.GroupMember
	err := s.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		First(&m).Error
	if err != nil {
		return "", errors.Wrap(err, "role lookup")
	}
	return m.Role, nil
}

func (s *MembershipStore) MemberIDs(ctx context.Context, groupID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&models.GroupMember{}).
		Where("group_id = ?", groupID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "member ids")
	}
	return ids, nil
}

func (s *MembershipStore) GroupByID(ctx context.Context, groupID uint) (*models.Group, error) {
	var g models.Group
	if err := s.db.WithContext(ctx).First(&g, groupID).Error; err != nil {
		return nil, errors.Wrap(err, "group lookup")
	}
	return &g, nil
}
