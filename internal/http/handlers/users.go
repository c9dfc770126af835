package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/atharvavshelke/SecureConnect/internal/http/middleware"
	"github.com/atharvavshelke/SecureConnect/internal/models"
)

type UserHandler struct {
	DB *gorm.DB
}

func (h *UserHandler) Me(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var u models.User
	err := h.DB.Select("id", "username", "email", "credits", "public_key", "encrypted_private_key", "avatar").
		First(&u, userID).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, u)
}

// List returns every reachable identity with its public key so clients
// can wrap message keys for recipients.
func (h *UserHandler) List(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var users []models.User
	err := h.DB.Select("id", "username", "public_key", "avatar").
		Where("id <> ? AND is_admin = ? AND is_banned = ?", userID, false, false).
		Find(&users).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *UserHandler) Search(c *gin.Context) {
	userID := middleware.MustUserID(c)

	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusOK, []models.User{})
		return
	}

	q := h.DB.Select("id", "username", "public_key", "avatar").
		Where("id <> ? AND is_admin = ? AND is_banned = ?", userID, false, false).
		Where("username LIKE ?", "%"+query+"%").
		Limit(20)

	if v := c.Query("excludeGroupId"); v != "" {
		if groupID, err := strconv.ParseUint(v, 10, 64); err == nil {
			var memberIDs []uint
			_ = h.DB.Model(&models.GroupMember{}).
				Where("group_id = ?", uint(groupID)).
				Pluck("user_id", &memberIDs).Error
			if len(memberIDs) > 0 {
				q = q.Where("id NOT IN ?", memberIDs)
			}
		}
	}

	var users []models.User
	if err := q.Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search users"})
		return
	}
	c.JSON(http.StatusOK, users)
}
