package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/atharvavshelke/SecureConnect/internal/http/middleware"
	"github.com/atharvavshelke/SecureConnect/internal/models"
	"github.com/atharvavshelke/SecureConnect/internal/store"
)

type ChatHandler struct {
	DB       *gorm.DB
	Messages *store.MessageStore
}

type recentChat struct {
	ID              uint       `json:"id"`
	Username        string     `json:"username"`
	PublicKey       string     `json:"public_key"`
	Avatar          string     `json:"avatar"`
	LastMessageTime *time.Time `json:"last_message_time"`
	UnreadCount     int        `json:"unread_count"`
}

// RecentChats lists every peer the user has exchanged messages with,
// most-unread and most-recent first.
func (h *ChatHandler) RecentChats(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var chats []recentChat
	err := h.DB.Raw(`
		SELECT
			u.id,
			u.username,
			u.public_key,
			u.avatar,
			MAX(m.created_at) AS last_message_time,
			SUM(CASE WHEN m.to_user = ? AND m.is_read = 0 THEN 1 ELSE 0 END) AS unread_count
		FROM users u
		JOIN messages m ON (m.from_user = u.id AND m.to_user = ?) OR (m.from_user = ? AND m.to_user = u.id)
		WHERE u.id <> ? AND u.is_admin = 0 AND u.is_banned = 0
		GROUP BY u.id
		ORDER BY unread_count DESC, last_message_time DESC`,
		userID, userID, userID, userID,
	).Scan(&chats).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch chats"})
		return
	}
	c.JSON(http.StatusOK, chats)
}

type historyItem struct {
	ID               uint      `json:"id"`
	FromUserID       uint      `json:"fromUserId"`
	FromUsername     string    `json:"fromUsername"`
	ToUserID         uint      `json:"toUserId"`
	EncryptedContent string    `json:"encryptedContent"`
	Timestamp        time.Time `json:"timestamp"`
	IsRead           bool      `json:"isRead"`
	Received         bool      `json:"received"`
}

// History returns the full conversation with one peer and marks their
// unread messages as read.
func (h *ChatHandler) History(c *gin.Context) {
	userID := middleware.MustUserID(c)

	otherID64, err := strconv.ParseUint(c.Param("userId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}
	otherID := uint(otherID64)

	msgs, err := h.Messages.DirectHistory(c.Request.Context(), userID, otherID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}

	names := map[uint]string{}
	var users []models.User
	_ = h.DB.Select("id", "username").Where("id IN ?", []uint{userID, otherID}).Find(&users).Error
	for _, u := range users {
		names[u.ID] = u.Username
	}

	items := make([]historyItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, historyItem{
			ID:               m.ID,
			FromUserID:       m.FromUser,
			FromUsername:     names[m.FromUser],
			ToUserID:         m.ToUser,
			EncryptedContent: m.EncryptedContent,
			Timestamp:        m.CreatedAt,
			IsRead:           m.IsRead,
			Received:         m.FromUser != userID,
		})
	}
	c.JSON(http.StatusOK, items)
}
