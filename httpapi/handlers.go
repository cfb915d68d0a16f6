package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mnemosign/mnemosign/challenge"
	"github.com/mnemosign/mnemosign/seal"
)

// webhookSecretHeader carries the secret Telegram echoes back on webhook
// deliveries when one was registered with setWebhook.
const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// createRetries bounds how many fresh identifiers are attempted when a
// generated code collides with a live record.
const createRetries = 3

// UpdateHandler consumes a Telegram update delivered over the webhook.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) bool
}

// Server wires the challenge store, the session issuer and the bot update
// handler into gin routes.
type Server struct {
	challenges    *challenge.Store
	sessions      *SessionIssuer
	updates       UpdateHandler
	webhookSecret string
	log           *zap.Logger
}

// NewServer assembles the HTTP surface. updates and webhookSecret may be
// empty when the Telegram webhook is served elsewhere.
func NewServer(challenges *challenge.Store, sessions *SessionIssuer, updates UpdateHandler, webhookSecret string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		challenges:    challenges,
		sessions:      sessions,
		updates:       updates,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// Register mounts the API routes on r.
func (s *Server) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/challenges", s.createChallenge)
	v1.POST("/challenges/consume", s.consumeChallenge)

	if s.updates != nil {
		r.POST("/telegram/webhook", s.telegramWebhook)
	}
}

type createChallengeRequest struct {
	ClientHints string `json:"clientHints"`
}

type createChallengeResponse struct {
	Code     string `json:"code"`
	Token    string `json:"token"`
	Mnemonic string `json:"mnemonic"`
}

func (s *Server) createChallenge(c *gin.Context) {
	// The body is optional: a bare POST creates a challenge without hints.
	var req createChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	for attempt := 0; attempt < createRetries; attempt++ {
		res, err := s.challenges.Create(c.Request.Context(), req.ClientHints)
		if errors.Is(err, challenge.ErrConflict) {
			continue
		}
		if err != nil {
			s.log.Error("challenge create failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusCreated, createChallengeResponse{
			Code:     res.Code,
			Token:    res.Token,
			Mnemonic: res.Mnemonic,
		})
		return
	}

	s.log.Warn("challenge code space congested", zap.Int("attempts", createRetries))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not allocate a challenge"})
}

type consumeChallengeRequest struct {
	Token string `json:"token" binding:"required"`
}

type consumeChallengeResponse struct {
	Status       challenge.Status `json:"status"`
	User         *sessionUser     `json:"user,omitempty"`
	SessionToken string           `json:"sessionToken,omitempty"`
}

type sessionUser struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Lang  string `json:"lang,omitempty"`
	Image string `json:"image,omitempty"`
}

func (s *Server) consumeChallenge(c *gin.Context) {
	var req consumeChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	res, err := s.challenges.TryConsume(c.Request.Context(), req.Token)
	switch {
	case errors.Is(err, seal.ErrInvalid) || errors.Is(err, seal.ErrExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	case errors.Is(err, challenge.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "challenge not found"})
		return
	case err != nil:
		s.log.Error("challenge consume failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if res.Status == challenge.StatusPending {
		c.JSON(http.StatusOK, consumeChallengeResponse{Status: res.Status})
		return
	}

	session, err := s.sessions.Issue(res.User)
	if err != nil {
		s.log.Error("session issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, consumeChallengeResponse{
		Status: res.Status,
		User: &sessionUser{
			ID:    res.User.ID,
			Name:  res.User.Name,
			Lang:  res.User.Lang,
			Image: res.User.Image,
		},
		SessionToken: session,
	})
}

func (s *Server) telegramWebhook(c *gin.Context) {
	if s.webhookSecret != "" && c.GetHeader(webhookSecretHeader) != s.webhookSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad webhook secret"})
		return
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed update"})
		return
	}

	s.updates.HandleUpdate(c.Request.Context(), update)
	c.Status(http.StatusOK)
}
