package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/atharvavshelke/SecureConnect/internal/call"
	"github.com/atharvavshelke/SecureConnect/internal/config"
	"github.com/atharvavshelke/SecureConnect/internal/database"
	"github.com/atharvavshelke/SecureConnect/internal/http/handlers"
	"github.com/atharvavshelke/SecureConnect/internal/http/middleware"
	"github.com/atharvavshelke/SecureConnect/internal/logging"
	"github.com/atharvavshelke/SecureConnect/internal/models"
	"github.com/atharvavshelke/SecureConnect/internal/relay"
	"github.com/atharvavshelke/SecureConnect/internal/store"
	"github.com/atharvavshelke/SecureConnect/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if cfg.DBDSN == "" || cfg.JWTSecret == "" {
		logging.Errorf("DB_DSN and JWT_SECRET must be set")
		return
	}

	db, err := database.ConnectMySQL(cfg.DBDSN)
	if err != nil {
		logging.Errorf("failed to connect db: %v", err)
		return
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Message{},
		&models.Group{},
		&models.GroupMember{},
		&models.GroupMessage{},
		&models.CreditTransaction{},
	); err != nil {
		logging.Errorf("failed to migrate: %v", err)
		return
	}

	hub := ws.NewHub()
	credits := store.NewCreditStore(db)
	memberships := store.NewMembershipStore(db)
	messages := store.NewMessageStore(db)

	relaySvc := relay.NewService(credits, memberships, messages, hub)
	signaler := call.NewSignaler(credits, hub)
	mesh := call.NewMesh(memberships, credits, hub)

	r := gin.Default()

	authH := &handlers.AuthHandler{DB: db, JWTSecret: cfg.JWTSecret, StartingCredits: cfg.StartingCredits}
	r.POST("/api/auth/register", authH.Register)
	r.POST("/api/auth/login", authH.Login)

	wsH := &handlers.WSHandler{
		Hub:                  hub,
		Relay:                relaySvc,
		Calls:                signaler,
		Mesh:                 mesh,
		JWTSecret:            cfg.JWTSecret,
		WSInsecureSkipVerify: cfg.WSInsecureSkipVerify,
	}
	r.GET("/ws", wsH.Handle)

	authed := r.Group("/api")
	authed.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	authed.POST("/auth/logout", authH.Logout)

	userH := &handlers.UserHandler{DB: db}
	authed.GET("/users/me", userH.Me)
	authed.GET("/users", userH.List)
	authed.GET("/users/search", userH.Search)

	chatH := &handlers.ChatHandler{DB: db, Messages: messages}
	authed.GET("/messages/chats", chatH.RecentChats)
	authed.GET("/messages/history/:userId", chatH.History)

	groupH := &handlers.GroupHandler{DB: db, Hub: hub, Store: messages}
	authed.POST("/groups", groupH.Create)
	authed.GET("/groups", groupH.List)
	authed.GET("/groups/:id/members", groupH.Members)
	authed.POST("/groups/:id/members", groupH.AddMember)
	authed.DELETE("/groups/:id/members/:userId", groupH.RemoveMember)
	authed.GET("/groups/:id/messages", groupH.Messages)
	authed.GET("/groups/:id/status", groupH.Status)
	authed.POST("/groups/:id/read", groupH.MarkRead)

	creditH := &handlers.CreditHandler{DB: db, Credits: credits}
	authed.GET("/credits", creditH.Balance)
	authed.POST("/credits/request", creditH.Request)
	authed.GET("/credits/transactions", creditH.Transactions)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logging.Infof("listening on %s", addr)
	if err := r.Run(addr); err != nil {
		logging.Errorf("server stopped: %v", err)
	}
}
