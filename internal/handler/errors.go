package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pedix/internal/domain"
	"pedix/internal/logger"
)

// respondError maps domain errors to HTTP statuses. Anything unrecognised is a 500 and
// its message is not leaked.
func respondError(c *gin.Context, err error) {
	var (
		ve  *domain.ValidationError
		nf  *domain.NotFoundError
		ce  *domain.ConflictError
		ae  *domain.AuthenticityError
		ife *domain.InsufficientFundsError
		ge  *domain.ExternalGatewayError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": ve.Field})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &ce):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &ae):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "payment could not be verified"})
	case errors.As(err, &ife):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":    "insufficient funds",
			"balance":  ife.Balance.StringFixed(2),
			"required": ife.Required.StringFixed(2),
		})
	case errors.As(err, &ge):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
	default:
		logger.S().Errorw("request_failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func forbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
}
