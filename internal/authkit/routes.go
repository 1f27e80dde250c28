package authkit

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/xauth/internal/twitter"
	"go.uber.org/zap"
)

// RouteDependencies bundles what the HTTP handlers need.
type RouteDependencies struct {
	Configuration ServerConfig
	Flow          *LoginFlow
	Provider      Provider
	Metrics       MetricsRecorder
	Logger        *zap.Logger
}

func (dependencies RouteDependencies) normalized() RouteDependencies {
	if dependencies.Metrics == nil {
		dependencies.Metrics = noopMetrics{}
	}
	if dependencies.Logger == nil {
		dependencies.Logger = zap.NewNop()
	}
	if dependencies.Configuration.CallbackPath == "" {
		dependencies.Configuration.CallbackPath = DefaultCallbackPath
	}
	if dependencies.Configuration.SessionCookieName == "" {
		dependencies.Configuration.SessionCookieName = DefaultSessionCookieName
	}
	return dependencies
}

// MountAuthRoutes registers /auth/start, /auth/callback, /auth/refresh, and /auth/logout.
func MountAuthRoutes(router gin.IRouter, dependencies RouteDependencies) {
	dependencies = dependencies.normalized()
	configuration := dependencies.Configuration
	logger := dependencies.Logger

	router.GET("/auth/start", func(contextGin *gin.Context) {
		forceLogin := contextGin.Query("force") == "true" || contextGin.Query("switch") == "true"
		authorizationURL, err := dependencies.Flow.Start(contextGin.Request.Context(), callbackURL(contextGin.Request, configuration), forceLogin)
		if err != nil {
			logger.Error("login start failed",
				zap.String("code", "auth.start.failed"),
				zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": CodeLoginStartFailed})
			return
		}
		contextGin.Redirect(http.StatusFound, authorizationURL)
	})

	router.GET(configuration.CallbackPath, func(contextGin *gin.Context) {
		result, err := dependencies.Flow.Complete(contextGin.Request.Context(), CallbackParams{
			Code:             contextGin.Query("code"),
			State:            contextGin.Query("state"),
			Error:            contextGin.Query("error"),
			ErrorDescription: contextGin.Query("error_description"),
		})
		if err != nil {
			redirectWithLoginError(contextGin, configuration, logger, err)
			return
		}
		writeSessionCookie(contextGin.Writer, contextGin.Request, configuration, result.SessionToken, result.SessionExpiresAt)
		target, redirectErr := clientRedirectURL(configuration.ClientRedirectURL, "data", newCallbackUserData(result))
		if redirectErr != nil {
			logger.Error("callback redirect encoding failed",
				zap.String("code", "auth.callback.redirect_failed"),
				zap.Error(redirectErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		logger.Info("login completed",
			zap.String("stage", string(StageSessionIssued)),
			zap.String("open_id", result.User.OpenID))
		contextGin.Redirect(http.StatusFound, target)
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		var inbound struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.RefreshToken) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token_required"})
			return
		}
		tokens, err := dependencies.Provider.Refresh(contextGin.Request.Context(), inbound.RefreshToken)
		if err != nil {
			dependencies.Metrics.Increment(MetricRefreshFailed)
			logger.Warn("token refresh failed",
				zap.String("code", "auth.refresh.failed"),
				zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "refresh_failed"})
			return
		}
		dependencies.Metrics.Increment(MetricRefreshSucceeded)
		contextGin.JSON(http.StatusOK, tokens)
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		clearSessionCookie(contextGin.Writer, contextGin.Request, configuration)
		dependencies.Metrics.Increment(MetricLogout)
		contextGin.Status(http.StatusNoContent)
	})
}

// MountProviderAPIRoutes registers /api/follow-status and the username lookups.
func MountProviderAPIRoutes(router gin.IRouter, dependencies RouteDependencies) {
	dependencies = dependencies.normalized()
	configuration := dependencies.Configuration
	logger := dependencies.Logger

	router.GET("/api/follow-status", func(contextGin *gin.Context) {
		accessToken := bearerToken(contextGin.Request)
		if accessToken == "" {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_bearer_token"})
			return
		}
		sourceUserID := strings.TrimSpace(contextGin.Query("userId"))
		if sourceUserID == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id_required"})
			return
		}
		status := twitter.FollowStatus{Skipped: true}
		if configuration.FollowTargetUsername != "" {
			status = dependencies.Provider.CheckFollowStatus(contextGin.Request.Context(), accessToken, sourceUserID, configuration.FollowTargetUsername)
		}
		if status.Skipped {
			dependencies.Metrics.Increment(MetricFollowSkipped)
		} else {
			dependencies.Metrics.Increment(MetricFollowChecked)
		}
		contextGin.JSON(http.StatusOK, status)
	})

	lookup := func(contextGin *gin.Context, input string) {
		dependencies.Metrics.Increment(MetricProfileLookup)
		profile, err := dependencies.Provider.GetUserProfileByUsername(contextGin.Request.Context(), input)
		switch {
		case err == nil:
			contextGin.JSON(http.StatusOK, profile)
		case errors.Is(err, twitter.ErrInvalidUsername):
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_username"})
		case errors.Is(err, twitter.ErrUserNotFound):
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		default:
			logger.Warn("user lookup failed",
				zap.String("code", "api.user_lookup.failed"),
				zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "lookup_failed"})
		}
	}

	router.GET("/api/users/:username", func(contextGin *gin.Context) {
		lookup(contextGin, contextGin.Param("username"))
	})

	router.POST("/api/users/lookup", func(contextGin *gin.Context) {
		var inbound struct {
			Input string `json:"input"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Input) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "input_required"})
			return
		}
		lookup(contextGin, inbound.Input)
	})
}

func redirectWithLoginError(contextGin *gin.Context, configuration ServerConfig, logger *zap.Logger, err error) {
	payload := CallbackErrorData{Error: true, Code: CodeTokenExchangeFailed, Message: "Login failed."}
	stage := StageProviderError
	var loginError *LoginError
	if errors.As(err, &loginError) {
		payload.Code = loginError.Code
		payload.Message = loginError.Message
		stage = loginError.Stage
	}
	logger.Warn("login failed",
		zap.String("code", "auth.callback."+payload.Code),
		zap.String("stage", string(stage)),
		zap.Error(err))
	target, redirectErr := clientRedirectURL(configuration.ClientRedirectURL, "error", payload)
	if redirectErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": payload.Code})
		return
	}
	contextGin.Redirect(http.StatusFound, target)
}

func callbackURL(request *http.Request, configuration ServerConfig) string {
	scheme := "http"
	if IsSecureRequest(request, configuration.TrustForwardedProto) {
		scheme = "https"
	}
	return scheme + "://" + request.Host + configuration.CallbackPath
}
