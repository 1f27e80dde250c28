package authkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const contextKeyPrincipal = "auth_principal"

// RequireSession authenticates the request and injects the principal.
func RequireSession(authenticator *Authenticator, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		principal, err := authenticator.Authenticate(contextGin.Request)
		if err != nil {
			logger.Debug("session rejected",
				zap.String("code", "session.rejected"),
				zap.String("path", contextGin.FullPath()),
				zap.Error(err),
			)
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		contextGin.Set(contextKeyPrincipal, principal)
		contextGin.Next()
	}
}

// PrincipalFromContext returns the principal stored by RequireSession.
func PrincipalFromContext(contextGin *gin.Context) (*Principal, bool) {
	value, found := contextGin.Get(contextKeyPrincipal)
	if !found {
		return nil, false
	}
	principal, ok := value.(*Principal)
	return principal, ok && principal != nil
}
