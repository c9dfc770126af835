package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/atharvavshelke/SecureConnect/internal/http/middleware"
	"github.com/atharvavshelke/SecureConnect/internal/models"
	"github.com/atharvavshelke/SecureConnect/internal/store"
)

type CreditHandler struct {
	DB      *gorm.DB
	Credits *store.CreditStore
}

func (h *CreditHandler) Balance(c *gin.Context) {
	userID := middleware.MustUserID(c)

	balance, err := h.Credits.Balance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": balance})
}

type creditRequestReq struct {
	Amount         int    `json:"amount" binding:"required"`
	TransactionRef string `json:"transactionRef"`
}

// Request files a pending top-up for out-of-band approval. The realtime
// core never credits; it only debits.
func (h *CreditHandler) Request(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var req creditRequestReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	tx := models.CreditTransaction{
		UserID:         userID,
		Amount:         req.Amount,
		TransactionRef: req.TransactionRef,
		Status:         "pending",
	}
	if err := h.DB.Create(&tx).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Credit request submitted for admin approval",
		"transactionId": tx.ID,
	})
}

func (h *CreditHandler) Transactions(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var txs []models.CreditTransaction
	err := h.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&txs).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch transactions"})
		return
	}
	c.JSON(http.StatusOK, txs)
}
