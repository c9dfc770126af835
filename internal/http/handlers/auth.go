package handlers

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/atharvavshelke/SecureConnect/internal/http/middleware"
	"github.com/atharvavshelke/SecureConnect/internal/models"
)

var (
	usernameRe = regexp.MustCompile(`^[a-z0-9]{5,32}$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9._%-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	// at least 8 chars, one uppercase, one special character
	upperRe   = regexp.MustCompile(`[A-Z]`)
	specialRe = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

type AuthHandler struct {
	DB              *gorm.DB
	JWTSecret       string
	StartingCredits int
}

type registerReq struct {
	Username            string `json:"username" binding:"required"`
	Password            string `json:"password" binding:"required"`
	Email               string `json:"email" binding:"required"`
	PublicKey           string `json:"publicKey"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "All fields are required"})
		return
	}

	req.Username = strings.ToLower(req.Username)
	if !usernameRe.MatchString(req.Username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username must be lowercase alphanumeric and between 5-32 characters long"})
		return
	}
	if strings.Contains(req.Username, "admin") {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Username "admin" is reserved`})
		return
	}
	if !emailRe.MatchString(req.Email) || strings.Contains(req.Email, "+") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please provide a valid email address. Plus-addressing (e.g., user+test@gmail.com) is not allowed."})
		return
	}
	if len(req.Password) < 8 || !upperRe.MatchString(req.Password) || !specialRe.MatchString(req.Password) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 8 characters long, contain at least one uppercase letter and one special character"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		return
	}

	u := models.User{
		Username:            req.Username,
		PasswordHash:        string(hash),
		Email:               req.Email,
		Credits:             h.StartingCredits,
		PublicKey:           req.PublicKey,
		EncryptedPrivateKey: req.EncryptedPrivateKey,
		IsLoggedIn:          true,
	}
	if err := h.DB.Create(&u).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username or email already exists"})
		return
	}

	token, err := h.signToken(&u)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Registration successful",
		"token":    token,
		"userId":   u.ID,
		"username": u.Username,
	})
}

type loginReq struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	ForceLogin bool   `json:"forceLogin"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "All fields are required"})
		return
	}

	var u models.User
	if err := h.DB.Where("username = ?", strings.ToLower(req.Username)).First(&u).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid credentials"})
		return
	}
	if u.IsLoggedIn && !req.ForceLogin {
		c.JSON(http.StatusForbidden, gin.H{"error": "User already logged in on another device.", "requiresForceLogin": true})
		return
	}
	if u.IsBanned {
		c.JSON(http.StatusForbidden, gin.H{"error": "Your account has been banned"})
		return
	}

	if err := h.DB.Model(&u).Update("is_logged_in", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	token, err := h.signToken(&u)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Login successful",
		"token":    token,
		"userId":   u.ID,
		"username": u.Username,
		"isAdmin":  u.IsAdmin,
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	userID := middleware.MustUserID(c)
	if err := h.DB.Model(&models.User{}).Where("id = ?", userID).Update("is_logged_in", false).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *AuthHandler) signToken(u *models.User) (string, error) {
	claims := middleware.AuthClaims{
		UserID:   u.ID,
		Username: u.Username,
		IsAdmin:  u.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.JWTSecret))
}
