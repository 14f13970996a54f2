package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pedix/internal/middleware"
	"pedix/internal/models"
	"pedix/internal/payment"
)

type PaymentHandler struct {
	svc *payment.Service
}

func NewPaymentHandler(svc *payment.Service) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// Create handles POST /payments. The caller becomes the paying customer.
func (h *PaymentHandler) Create(c *gin.Context) {
	var req struct {
		OrderID     string          `json:"order_id" binding:"required"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
		MerchantID  string          `json:"merchant_id"`
		CourierID   string          `json:"courier_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.svc.Create(c.Request.Context(), payment.CreateInput{
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Description: req.Description,
		CustomerID:  middleware.GetUserID(c),
		MerchantID:  req.MerchantID,
		CourierID:   req.CourierID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// Get handles GET /payments/:order_id. Reading expires a stale request.
func (h *PaymentHandler) Get(c *gin.Context) {
	p, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p)
}

// Status handles GET /payments/:order_id/status, the polling endpoint.
func (h *PaymentHandler) Status(c *gin.Context) {
	if _, ok := h.load(c); !ok {
		return
	}
	orderID := c.Param("order_id")
	st, err := h.svc.Status(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": st, "terminal": st.Terminal()})
}

// Cancel handles POST /payments/:order_id/cancel.
func (h *PaymentHandler) Cancel(c *gin.Context) {
	if _, ok := h.load(c); !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by " + middleware.GetUserID(c)
	}
	p, err := h.svc.Cancel(c.Request.Context(), c.Param("order_id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Config handles GET /payments/config. Only the gateway public key leaves the server.
func (h *PaymentHandler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.PublicConfig())
}

// load fetches the request and checks the caller is a party to the order.
func (h *PaymentHandler) load(c *gin.Context) (*models.PaymentRequest, bool) {
	p, err := h.svc.Get(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if !isParty(c, p) {
		forbidden(c)
		return nil, false
	}
	return p, true
}

func isParty(c *gin.Context, p *models.PaymentRequest) bool {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return false
	}
	if claims.IsAdmin() {
		return true
	}
	uid := claims.UserID
	return uid == p.CustomerID || uid == p.MerchantID || uid == p.CourierID
}
