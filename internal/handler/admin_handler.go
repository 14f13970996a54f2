package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pedix/internal/audit"
	"pedix/internal/models"
	"pedix/internal/wallet"
)

// PaymentLister backs the admin payment listing.
type PaymentLister interface {
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.PaymentRequest, error)
}

type AdminHandler struct {
	wallets  *wallet.PaymentService
	audit    audit.Log
	payments PaymentLister
}

func NewAdminHandler(wallets *wallet.PaymentService, log audit.Log, payments PaymentLister) *AdminHandler {
	return &AdminHandler{wallets: wallets, audit: log, payments: payments}
}

// CreditWallet handles POST /admin/wallets/:user_id/credit.
func (h *AdminHandler) CreditWallet(c *gin.Context) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Reason string          `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "admin top-up"
	}
	w, err := h.wallets.TopUp(c.Request.Context(), c.Param("user_id"), req.Amount, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":  w.UserID,
		"balance":  w.Balance.StringFixed(2),
		"currency": w.Currency,
	})
}

// GetWallet handles GET /admin/wallets/:user_id.
func (h *AdminHandler) GetWallet(c *gin.Context) {
	w, err := h.wallets.Ledger().Wallet(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// ListAudit handles GET /admin/audit?event=&order_id=&gateway_payment_id=&limit=.
func (h *AdminHandler) ListAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.audit.List(c.Request.Context(), audit.Filter{
		Event:            c.Query("event"),
		OrderID:          c.Query("order_id"),
		GatewayPaymentID: c.Query("gateway_payment_id"),
		Limit:            limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ListPayments handles GET /admin/payments?status=&limit=&offset=.
func (h *AdminHandler) ListPayments(c *gin.Context) {
	if h.payments == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "payment listing unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := h.payments.ListByStatus(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": list})
}
