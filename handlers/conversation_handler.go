package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/internal/service"
	"github.com/onurcolak/inbox-delivery-service/pkg/response"
	"github.com/onurcolak/inbox-delivery-service/pkg/validator"
)

type conversationService interface {
	Create(ctx context.Context, req service.CreateConversationRequest) (*domain.Conversation, bool, error)
	ListMessages(ctx context.Context, businessID string, conversationID int64, page, pageSize int) ([]domain.Message, int64, error)
}

type ConversationHandler struct {
	service conversationService
}

func NewConversationHandler(service conversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

type CreateConversationRequest struct {
	BusinessID   string `json:"business_id" validate:"required"`
	Channel      string `json:"channel" validate:"required,channel"`
	CustomerID   string `json:"customer_id" validate:"required,max=255"`
	CustomerName string `json:"customer_name" validate:"max=255"`
	IsSimulated  bool   `json:"is_simulated"`
}

// CreateConversation godoc
// @Summary Open a conversation
// @Description Opens a business-initiated conversation (email threads, simulated test chats). Returns the live conversation when one already exists for the customer.
// @Tags conversations
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param conversation body CreateConversationRequest true "Conversation to open"
// @Success 200 {object} response.SuccessResponse
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/conversations [post]
func (h *ConversationHandler) CreateConversation(c echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	conv, created, err := h.service.Create(c.Request().Context(), service.CreateConversationRequest{
		BusinessID:   req.BusinessID,
		Channel:      domain.Channel(req.Channel),
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		IsSimulated:  req.IsSimulated,
	})
	if err != nil {
		return response.InternalServerError(c, err)
	}

	if !created {
		return response.OkWithMessage(c, "Conversation already exists", conv)
	}
	return response.Created(c, "Conversation created successfully", conv)
}

// ListMessages godoc
// @Summary List conversation messages
// @Description Newest first, paginated
// @Tags conversations
// @Accept json
// @Produce json
// @Param x-api-key header string true "API key"
// @Param id path int true "Conversation ID"
// @Param business_id query string true "Owning business"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/conversations/{id}/messages [get]
func (h *ConversationHandler) ListMessages(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, fmt.Errorf("invalid conversation id"))
	}

	businessID := c.QueryParam("business_id")
	if businessID == "" {
		return response.BadRequestWithMessage(c, "business_id is required")
	}

	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	messages, total, err := h.service.ListMessages(c.Request().Context(), businessID, id, page, pageSize)
	if errors.Is(err, domain.ErrConversationNotFound) {
		return response.NotFound(c, "Conversation not found")
	}
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, messages, page, pageSize, total)
}
