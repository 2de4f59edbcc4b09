package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/internal/service"
	"github.com/onurcolak/inbox-delivery-service/pkg/response"
	"github.com/onurcolak/inbox-delivery-service/pkg/validator"
)

type outboundService interface {
	Send(ctx context.Context, req service.OutboundRequest) (*domain.Message, error)
	Retry(ctx context.Context, businessID string, messageID int64) (*domain.Message, error)
}

type MessageHandler struct {
	service outboundService
}

func NewMessageHandler(service outboundService) *MessageHandler {
	return &MessageHandler{service: service}
}

type SendMessageRequest struct {
	ConversationID int64  `json:"conversation_id" validate:"required,gt=0"`
	BusinessID     string `json:"business_id" validate:"required"`
	SenderType     string `json:"sender_type" validate:"required,sender_type"`
	SenderName     string `json:"sender_name" validate:"max=255"`
	Content        string `json:"content" validate:"required,max=4096"`
	Channel        string `json:"channel" validate:"omitempty,channel"`
}

// SendMessage godoc
// @Summary Send a message
// @Description Stores a message in a conversation. Business messages are dispatched to the provider in the background and start as "sending".
// @Tags messages
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param message body SendMessageRequest true "Message to send"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages [post]
func (h *MessageHandler) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	message, err := h.service.Send(c.Request().Context(), service.OutboundRequest{
		ConversationID: req.ConversationID,
		BusinessID:     req.BusinessID,
		SenderType:     domain.SenderType(req.SenderType),
		SenderName:     req.SenderName,
		Content:        req.Content,
		Channel:        domain.Channel(req.Channel),
	})
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		return response.NotFound(c, "Conversation not found")
	case errors.Is(err, domain.ErrChannelMismatch):
		return response.BadRequest(c, err)
	case err != nil:
		return response.InternalServerError(c, err)
	}

	return response.Created(c, "Message created successfully", message)
}

// RetryMessage godoc
// @Summary Retry a failed message
// @Description Re-dispatches a failed business message and returns the updated record. A retry that fails again still answers 200 with status "failed".
// @Tags messages
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param id path int true "Message ID"
// @Param business_id query string true "Owning business"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/{id}/retry [post]
func (h *MessageHandler) RetryMessage(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, fmt.Errorf("invalid message id"))
	}

	businessID := c.QueryParam("business_id")
	if businessID == "" {
		return response.BadRequestWithMessage(c, "business_id is required")
	}

	message, err := h.service.Retry(c.Request().Context(), businessID, id)
	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		return response.NotFound(c, "Message not found")
	case errors.Is(err, domain.ErrNotRetryable):
		return response.BadRequest(c, err)
	case err != nil:
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, message)
}

func parseIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func parsePaginationParams(c echo.Context) (int, int, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	pageStr := c.QueryParam("page")
	pageSizeStr := c.QueryParam("pageSize")

	// Page
	page := defaultPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = p
	}

	// Page size
	pageSize := defaultPageSize
	if pageSizeStr != "" {
		ps, err := strconv.Atoi(pageSizeStr)
		if err != nil || ps <= 0 || ps > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}

		pageSize = ps
	}

	return page, pageSize, nil
}
