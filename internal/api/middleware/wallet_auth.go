package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/memoryorgan/internal/models"
	"github.com/Wikid82/memoryorgan/internal/services"
)

// Headers carrying the wallet proof on routes that have no JSON body.
const (
	WalletAddressHeader   = "X-Wallet-Address"
	WalletMessageHeader   = "X-Wallet-Message"
	WalletSignatureHeader = "X-Wallet-Signature"
)

// RequestAuthorizer decides whether a signed request may run an operation.
type RequestAuthorizer interface {
	Authorize(ctx context.Context, req services.AuthRequest) error
}

// RequireWalletRole aborts unless the request headers carry a signature from
// a wallet whose role allows op.
func RequireWalletRole(authz RequestAuthorizer, op models.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.GetHeader(WalletAddressHeader)
		message := c.GetHeader(WalletMessageHeader)
		sig := c.GetHeader(WalletSignatureHeader)
		if wallet == "" || message == "" || sig == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Wallet signature headers required"})
			return
		}
		if authz == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}

		err := authz.Authorize(c.Request.Context(), services.AuthRequest{
			Operation: op,
			Wallet:    wallet,
			Message:   message,
			Signature: sig,
		})
		switch {
		case err == nil:
			c.Set("wallet", models.NormalizeWallet(wallet))
			c.Next()
		case errors.Is(err, services.ErrInvalidSignature):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		case errors.Is(err, services.ErrAuthDenied):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		default:
			GetRequestLogger(c).WithError(err).Error("Wallet authorization failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authorization failed"})
		}
	}
}
