package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/atharvavshelke/SecureConnect/internal/models"
)

// ErrInsufficientCredits is returned when an admission attempt finds a
// zero balance. Nothing is changed in that case.
var ErrInsufficientCredits = errors.New("insufficient credits")

// CreditStore is the economic gate. Admission is a single conditional
// UPDATE so there is no read-then-write window between check and debit.
type CreditStore struct {
	db *gorm.DB
}

func NewCreditStore(db *gorm.DB) *CreditStore {
	return &CreditStore{db: db}
}

// Debit takes one credit from the user if the balance is positive and
// returns the remaining balance. A zero balance yields
// ErrInsufficientCredits with no state change.
func (s *CreditStore) Debit(ctx context.Context, userID uint) (int, error) {
	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND credits > 0", userID).
		UpdateColumn("credits", gorm.Expr("credits - 1"))
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "debit credit")
	}
	if res.RowsAffected == 0 {
		return 0, ErrInsufficientCredits
	}
	return s.Balance(ctx, userID)
}

// Balance reads the current credit balance.
func (s *CreditStore) Balance(ctx context.Context, userID uint) (int, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Select("credits").First(&u, userID).Error; err != nil {
		return 0, errors.Wrap(err, "read balance")
	}
	return u.Credits, nil
}
