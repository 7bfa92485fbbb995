package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"chatbot/internal/auth"
	"chatbot/internal/errors"
	"chatbot/internal/model"
	"chatbot/internal/service"
)

// ChatHandler serves the conversation endpoints.
type ChatHandler struct {
	chatService service.ChatService
	authService service.AuthService
	log         *zap.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chatService service.ChatService, authService service.AuthService, log *zap.Logger) *ChatHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatHandler{chatService: chatService, authService: authService, log: log}
}

// MessageRequest carries one user message.
type MessageRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

// MessageResponse carries the assistant reply.
type MessageResponse struct {
	Response string `json:"response"`
}

// SendMessage godoc
// @Summary Send a message to the assistant
// @Description Always answers with a reply when authenticated; upstream failures produce a fallback text.
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body MessageRequest true "Message"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 429 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /chat/message [post]
func (h *ChatHandler) SendMessage(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}

	var req MessageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	reply, err := h.chatService.Respond(c.Request().Context(), user.ID, req.Message)
	if err != nil {
		h.log.Error("respond failed", zap.Uint("user_id", user.ID), zap.Error(err))
		return errorResponse(err)
	}

	return c.JSON(http.StatusOK, MessageResponse{Response: reply})
}

// History godoc
// @Summary Recent interactions
// @Description Returns up to 20 interactions, newest first.
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.Interaction
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /chat/history [get]
func (h *ChatHandler) History(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}

	interactions, err := h.chatService.History(c.Request().Context(), user.ID)
	if err != nil {
		h.log.Error("history failed", zap.Uint("user_id", user.ID), zap.Error(err))
		return errorResponse(err)
	}

	return c.JSON(http.StatusOK, interactions)
}

// currentUser maps the request identity to its stored user.
func (h *ChatHandler) currentUser(c echo.Context) (*model.User, error) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		return nil, errorResponse(errors.ErrUnauthorized)
	}
	user, err := h.authService.ResolveUser(c.Request().Context(), identity.Subject)
	if err != nil {
		return nil, errorResponse(err)
	}
	return user, nil
}
