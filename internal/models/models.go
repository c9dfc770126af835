package models

import "time"

// User is the registered identity. The key material columns hold what the
// client uploads at registration: the public key in the clear and the
// private key wrapped under a password-derived key. The server never
// decrypts the private-key blob.
type User struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Username            string    `gorm:"size:32;uniqueIndex;not null" json:"username"`
	PasswordHash        string    `gorm:"size:255;not null" json:"-"`
	Email               string    `gorm:"size:190;uniqueIndex;not null" json:"email"`
	Credits             int       `gorm:"not null;default:500" json:"credits"`
	PublicKey           string    `gorm:"type:text" json:"public_key"`
	EncryptedPrivateKey string    `gorm:"type:text" json:"encrypted_private_key,omitempty"`
	IsLoggedIn          bool      `gorm:"not null;default:false" json:"-"`
	IsAdmin             bool      `gorm:"not null;default:false" json:"is_admin"`
	IsBanned            bool      `gorm:"not null;default:false" json:"-"`
	Avatar              string    `gorm:"type:text" json:"avatar"`
	CreatedAt           time.Time `json:"created_at"`
}

// Message is a direct message. EncryptedContent is the opaque envelope:
// ciphertext plus the per-message key wrapped for both the recipient and
// the sender (self-copy). Only the read flag is ever mutated.
type Message struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	FromUser         uint      `gorm:"index;not null" json:"from_user"`
	ToUser           uint      `gorm:"index;not null" json:"to_user"`
	EncryptedContent string    `gorm:"type:text;not null" json:"encrypted_content"`
	IsRead           bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

type Group struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:120;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedBy   uint      `gorm:"index;not null" json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// GroupMember holds the symmetric group key wrapped for this member's
// public key. The raw group key never reaches the server; inviters wrap it
// client-side for each new member.
type GroupMember struct {
	GroupID           uint      `gorm:"primaryKey;autoIncrement:false" json:"group_id"`
	UserID            uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Role              string    `gorm:"size:20;not null;default:member" json:"role"`
	EncryptedGroupKey string    `gorm:"type:text" json:"encrypted_group_key"`
	JoinedAt          time.Time `json:"joined_at"`
	LastReadAt        time.Time `json:"last_read_at"`
}

type GroupMessage struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	GroupID          uint      `gorm:"index;not null" json:"group_id"`
	FromUser         uint      `gorm:"index;not null" json:"from_user"`
	EncryptedContent string    `gorm:"type:text;not null" json:"encrypted_content"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

// CreditTransaction is a top-up request. It stays pending until an
// operator approves it out-of-band; the realtime core only ever debits.
type CreditTransaction struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"index;not null" json:"user_id"`
	Amount         int        `gorm:"not null" json:"amount"`
	TransactionRef string     `gorm:"size:190" json:"transaction_ref"`
	Status         string     `gorm:"size:20;not null;default:pending" json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
}

func (GroupMember) TableName() string { return "group_members" }
