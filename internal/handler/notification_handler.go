package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pedix/internal/middleware"
	"pedix/internal/repository"
)

type NotificationHandler struct {
	repo *repository.NotificationRepository
}

func NewNotificationHandler(repo *repository.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{repo: repo}
}

// List handles GET /me/notifications?order_id=&unread=true.
func (h *NotificationHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	unreadOnly, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	orderID := c.Query("order_id")

	ctx := c.Request.Context()
	list, err := h.repo.List(ctx, repository.NotificationFilter{
		UserID:     userID,
		OrderID:    orderID,
		UnreadOnly: unreadOnly,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	unread, err := h.repo.UnreadCount(ctx, userID, orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list, "unread": unread})
}

// MarkRead handles PUT /me/notifications/:id/read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.repo.MarkRead(c.Request.Context(), c.Param("id"), middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// MarkOrderRead handles PUT /me/orders/:order_id/notifications/read, used once a client has
// shown the final status of a payment.
func (h *NotificationHandler) MarkOrderRead(c *gin.Context) {
	n, err := h.repo.MarkOrderRead(c.Request.Context(), middleware.GetUserID(c), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "marked": n})
}
