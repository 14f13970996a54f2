package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pedix/internal/middleware"
	"pedix/internal/wallet"
)

type WalletHandler struct {
	svc *wallet.PaymentService
}

func NewWalletHandler(svc *wallet.PaymentService) *WalletHandler {
	return &WalletHandler{svc: svc}
}

// GetBalance returns the current user's wallet. A user without a wallet sees zero.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	w, err := h.svc.Ledger().Wallet(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":        w.Balance.StringFixed(2),
		"reserved_total": w.ReservedTotal.StringFixed(2),
		"currency":       w.Currency,
	})
}

func (h *WalletHandler) Transactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.svc.Ledger().Transactions(c.Request.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list})
}

// Reserve handles POST /wallet/reservations. It checks funds and holds nothing.
func (h *WalletHandler) Reserve(c *gin.Context) {
	var req struct {
		OrderID string          `json:"order_id" binding:"required"`
		Amount  decimal.Decimal `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.svc.Reserve(c.Request.Context(), middleware.GetUserID(c), req.Amount, req.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Confirm handles POST /wallet/reservations/:order_id/confirm.
func (h *WalletHandler) Confirm(c *gin.Context) {
	if !h.ownsReservation(c) {
		return
	}
	var req struct {
		PayeeID string `json:"payee_id"`
	}
	_ = c.ShouldBindJSON(&req)
	receipt, err := h.svc.Confirm(c.Request.Context(), c.Param("order_id"), req.PayeeID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// Release handles POST /wallet/reservations/:order_id/release. Releasing twice is a no-op.
func (h *WalletHandler) Release(c *gin.Context) {
	if !h.ownsReservation(c) {
		return
	}
	res, err := h.svc.Release(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Pay handles POST /wallet/pay: reserve and confirm in one call.
func (h *WalletHandler) Pay(c *gin.Context) {
	var req struct {
		OrderID string          `json:"order_id" binding:"required"`
		PayeeID string          `json:"payee_id"`
		Amount  decimal.Decimal `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	receipt, err := h.svc.Pay(c.Request.Context(), wallet.PayInput{
		OrderID: req.OrderID,
		PayerID: middleware.GetUserID(c),
		PayeeID: req.PayeeID,
		Amount:  req.Amount,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *WalletHandler) ownsReservation(c *gin.Context) bool {
	res, err := h.svc.Ledger().Reservation(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return false
	}
	if claims := middleware.GetClaims(c); claims == nil || (res.UserID != claims.UserID && !claims.IsAdmin()) {
		forbidden(c)
		return false
	}
	return true
}
