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
	"github.com/atharvavshelke/SecureConnect/internal/ws"
)

type GroupHandler struct {
	DB    *gorm.DB
	Hub   *ws.Hub
	Store *store.MessageStore
}

type createGroupReq struct {
	Name              string `json:"name" binding:"required"`
	Description       string `json:"description"`
	EncryptedGroupKey string `json:"encryptedGroupKey" binding:"required"`
}

// Create makes a group with the creator as its first admin member. The
// creator generates the group key client-side and uploads only its own
// wrapped copy.
func (h *GroupHandler) Create(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var req createGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Group name is required"})
		return
	}

	group := models.Group{Name: req.Name, Description: req.Description, CreatedBy: userID}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&group).Error; err != nil {
			return err
		}
		return tx.Create(&models.GroupMember{
			GroupID:           group.ID,
			UserID:            userID,
			Role:              "admin",
			EncryptedGroupKey: req.EncryptedGroupKey,
			JoinedAt:          time.Now(),
		}).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create group"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": group.ID, "name": group.Name, "description": group.Description})
}

type groupListItem struct {
	ID                uint      `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	CreatedBy         uint      `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	EncryptedGroupKey string    `json:"encrypted_group_key"`
	UnreadCount       int       `json:"unread_count"`
}

// List returns the caller's groups with their wrapped group key and
// unread counts.
func (h *GroupHandler) List(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var groups []groupListItem
	err := h.DB.Raw(`
		SELECT
			g.id, g.name, g.description, g.created_by, g.created_at,
			gm.encrypted_group_key,
			(SELECT COUNT(*) FROM group_messages WHERE group_id = g.id AND created_at > gm.last_read_at) AS unread_count
		FROM `+"`groups`"+` g
		JOIN group_members gm ON g.id = gm.group_id
		WHERE gm.user_id = ?
		ORDER BY g.created_at DESC`,
		userID,
	).Scan(&groups).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch groups"})
		return
	}
	c.JSON(http.StatusOK, groups)
}

type memberItem struct {
	ID       uint      `json:"id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

func (h *GroupHandler) Members(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var members []memberItem
	err := h.DB.Raw(`
		SELECT u.id, u.username, u.avatar, gm.role, gm.joined_at
		FROM users u
		JOIN group_members gm ON u.id = gm.user_id
		WHERE gm.group_id = ?`,
		groupID,
	).Scan(&members).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch group members"})
		return
	}
	c.JSON(http.StatusOK, members)
}

type addMemberReq struct {
	UserID            uint   `json:"userId" binding:"required"`
	EncryptedGroupKey string `json:"encryptedGroupKey" binding:"required"`
}

// AddMember lets a group admin invite a user. The inviter wraps the group
// key for the invitee's public key client-side; the server only stores
// the wrapped copy.
func (h *GroupHandler) AddMember(c *gin.Context) {
	requesterID := middleware.MustUserID(c)
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req addMemberReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID and encrypted group key are required"})
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var requester models.GroupMember
		if err := tx.Where("group_id = ? AND user_id = ?", groupID, requesterID).First(&requester).Error; err != nil {
			return errNotAdmin
		}
		if requester.Role != "admin" {
			return errNotAdmin
		}
		return tx.Create(&models.GroupMember{
			GroupID:           groupID,
			UserID:            req.UserID,
			Role:              "member",
			EncryptedGroupKey: req.EncryptedGroupKey,
			JoinedAt:          time.Now(),
		}).Error
	})
	if err == errNotAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only group admins can add members"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User is already a member"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Member added successfully"})
}

// RemoveMember handles both self-leave and admin removal. A group with no
// members left is deleted along with its messages.
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	requesterID := middleware.MustUserID(c)
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	targetID64, err := strconv.ParseUint(c.Param("userId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}
	targetID := uint(targetID64)
	isLeave := requesterID == targetID

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var requester models.GroupMember
		if err := tx.Where("group_id = ? AND user_id = ?", groupID, requesterID).First(&requester).Error; err != nil {
			return errNotMember
		}
		if !isLeave && requester.Role != "admin" {
			return errNotAdmin
		}

		if err := tx.Where("group_id = ? AND user_id = ?", groupID, targetID).
			Delete(&models.GroupMember{}).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&models.GroupMember{}).Where("group_id = ?", groupID).Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupMessage{}).Error; err != nil {
				return err
			}
			return tx.Delete(&models.Group{}, groupID).Error
		}
		return nil
	})
	switch err {
	case nil:
		msg := "Member removed successfully"
		if isLeave {
			msg = "Left group successfully"
		}
		c.JSON(http.StatusOK, gin.H{"message": msg})
	case errNotMember:
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not a member of this group"})
	case errNotAdmin:
		c.JSON(http.StatusForbidden, gin.H{"error": "Only group admins can remove members"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
	}
}

type groupMsgItem struct {
	ID               uint      `json:"id"`
	GroupID          uint      `json:"group_id"`
	FromUser         uint      `json:"from_user"`
	FromUsername     string    `json:"fromUsername"`
	EncryptedContent string    `json:"encrypted_content"`
	CreatedAt        time.Time `json:"created_at"`
}

// Messages returns a group's history and advances the caller's last-read
// marker.
func (h *GroupHandler) Messages(c *gin.Context) {
	userID := middleware.MustUserID(c)
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	msgs, err := h.Store.GroupHistory(c.Request.Context(), groupID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}

	senderIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		senderIDs = append(senderIDs, m.FromUser)
	}
	names := map[uint]string{}
	if len(senderIDs) > 0 {
		var users []models.User
		_ = h.DB.Select("id", "username").Where("id IN ?", senderIDs).Find(&users).Error
		for _, u := range users {
			names[u.ID] = u.Username
		}
	}

	items := make([]groupMsgItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, groupMsgItem{
			ID:               m.ID,
			GroupID:          m.GroupID,
			FromUser:         m.FromUser,
			FromUsername:     names[m.FromUser],
			EncryptedContent: m.EncryptedContent,
			CreatedAt:        m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, items)
}

// Status reports how many of the group's members are currently online.
func (h *GroupHandler) Status(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var memberIDs []uint
	err := h.DB.Model(&models.GroupMember{}).
		Where("group_id = ?", groupID).
		Pluck("user_id", &memberIDs).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch status"})
		return
	}

	online := 0
	for _, id := range memberIDs {
		if h.Hub.Online(id) {
			online++
		}
	}
	c.JSON(http.StatusOK, gin.H{"onlineCount": online, "totalCount": len(memberIDs)})
}

func (h *GroupHandler) MarkRead(c *gin.Context) {
	userID := middleware.MustUserID(c)
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	err := h.DB.Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Update("last_read_at", time.Now()).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark as read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Marked as read"})
}
