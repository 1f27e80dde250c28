package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tyemirov/xauth/internal/authkit"
	"github.com/tyemirov/xauth/internal/authkitpg"
	"github.com/tyemirov/xauth/internal/ratelimit"
	"github.com/tyemirov/xauth/internal/twitter"
	"github.com/tyemirov/xauth/internal/web"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "xauth",
		Short:   "X (Twitter) OAuth2 PKCE login service with JWT sessions and rate-limit aware provider calls",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	flags := rootCmd.Flags()
	flags.String("listen_addr", ":8080", "HTTP listen address")
	flags.String("log_level", "info", "Log level (debug, info, warn, error)")
	flags.String("app_id", "", "Application id embedded in session tokens")
	flags.String("jwt_signing_key", "", "HS256 signing secret for session tokens")
	flags.String("jwt_issuer", defaultIssuer, "Issuer claim for session tokens")
	flags.Duration("session_ttl", authkit.DefaultSessionTTL, "Session token TTL")
	flags.Duration("pkce_ttl", authkit.DefaultPKCETTL, "Lifetime of a pending login (state and verifier)")
	flags.Duration("idle_timeout", authkit.DefaultIdleTimeout, "Reject sessions of users idle for longer; 0 disables")
	flags.String("cookie_domain", "", "Cookie domain; empty derives the parent domain of the request host")
	flags.Bool("trust_forwarded_proto", false, "Trust X-Forwarded-Proto and Forwarded when deciding cookie Secure")
	flags.String("client_redirect_url", "", "Client URL receiving ?data= or ?error= after the callback")
	flags.String("callback_path", authkit.DefaultCallbackPath, "OAuth callback path registered with X")
	flags.String("twitter_client_id", "", "X OAuth2 client id")
	flags.String("twitter_client_secret", "", "X OAuth2 client secret")
	flags.String("twitter_app_bearer_token", "", "X app-only bearer token for username lookups")
	flags.String("twitter_authorize_url", twitter.DefaultAuthorizeURL, "X authorize endpoint")
	flags.String("twitter_token_url", twitter.DefaultTokenURL, "X token endpoint")
	flags.String("twitter_api_base_url", twitter.DefaultAPIBaseURL, "X API base URL")
	flags.StringSlice("twitter_scopes", twitter.DefaultScopes, "OAuth scopes requested at login")
	flags.String("follow_target_username", "", "Account whose followers are flagged after login")
	flags.Duration("follow_check_timeout", authkit.DefaultFollowCheckTimeout, "Upper bound on the follow check run during login")
	flags.String("database_url", "", "User database URL (postgres:// or sqlite://; empty for in-memory)")
	flags.String("pkce_store_url", "", "Durable PKCE tier (redis://, rediss://, postgres://, sqlite://; empty for memory only)")
	flags.Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	flags.StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	flags.VisitAll(func(flag *pflag.Flag) {
		_ = viper.BindPFlag(flag.Name, flag)
	})

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingAppID            = "config.missing_app_id"
	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidIdleTimeout      = "config.invalid_idle_timeout"
	configCodeMissingClientRedirect   = "config.missing_client_redirect_url"
	configCodeMissingTwitterClient    = "config.missing_twitter_client"
	configCodeInvalidServerConfig     = "config.invalid_server_config"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeInvalidLogLevel         = "config.invalid_log_level"
	configCodeUnsupportedPKCEStore    = "config.unsupported_pkce_store_url"
)

const defaultIssuer = "xauth"

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates the session and login settings from viper.
func LoadServerConfig() (authkit.ServerConfig, error) {
	appID := strings.TrimSpace(viper.GetString("app_id"))
	if appID == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingAppID, "app_id must be provided")
	}
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}
	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}
	idleTimeout := viper.GetDuration("idle_timeout")
	if idleTimeout < 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidIdleTimeout, "idle_timeout must not be negative")
	}
	clientRedirectURL := strings.TrimSpace(viper.GetString("client_redirect_url"))
	if clientRedirectURL == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingClientRedirect, "client_redirect_url must be provided")
	}
	if viper.GetString("twitter_client_id") == "" || viper.GetString("twitter_client_secret") == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingTwitterClient, "twitter_client_id and twitter_client_secret must be provided")
	}

	issuer := strings.TrimSpace(viper.GetString("jwt_issuer"))
	if issuer == "" {
		issuer = defaultIssuer
	}

	serverConfig := authkit.ServerConfig{
		AppID:                appID,
		SigningKey:           []byte(jwtSigningKey),
		Issuer:               issuer,
		CookieDomain:         viper.GetString("cookie_domain"),
		SessionTTL:           sessionTTL,
		PKCETTL:              viper.GetDuration("pkce_ttl"),
		IdleTimeout:          idleTimeout,
		TrustForwardedProto:  viper.GetBool("trust_forwarded_proto"),
		ClientRedirectURL:    clientRedirectURL,
		CallbackPath:         viper.GetString("callback_path"),
		FollowTargetUsername: strings.TrimPrefix(strings.TrimSpace(viper.GetString("follow_target_username")), "@"),
		FollowCheckTimeout:   viper.GetDuration("follow_check_timeout"),
	}
	if err := serverConfig.Validate(); err != nil {
		return authkit.ServerConfig{}, configError(configCodeInvalidServerConfig, err.Error())
	}
	return serverConfig, nil
}

func loadProviderConfig() twitter.Config {
	return twitter.Config{
		ClientID:       viper.GetString("twitter_client_id"),
		ClientSecret:   viper.GetString("twitter_client_secret"),
		AppBearerToken: viper.GetString("twitter_app_bearer_token"),
		AuthorizeURL:   viper.GetString("twitter_authorize_url"),
		TokenURL:       viper.GetString("twitter_token_url"),
		APIBaseURL:     viper.GetString("twitter_api_base_url"),
		Scopes:         viper.GetStringSlice("twitter_scopes"),
	}
}

func newLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, configError(configCodeInvalidLogLevel, err.Error())
	}
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(parsedLevel)
	loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return loggerConfig.Build()
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := newLogger(viper.GetString("log_level"))
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	users, closeUsers, usersErr := openUserStore(runCtx, viper.GetString("database_url"), logger)
	if usersErr != nil {
		return usersErr
	}
	defer closeUsers()

	durable, closeDurable, durableErr := openPKCEDurableTier(runCtx, viper.GetString("pkce_store_url"))
	if durableErr != nil {
		return durableErr
	}
	defer closeDurable()

	states := authkit.NewPKCEStore(authkit.PKCEStoreOptions{
		Durable: durable,
		TTL:     serverConfig.PKCETTL,
		Logger:  logger,
	})
	logger.Info("pkce store ready", zap.String("durable_tier", states.DurableTier()))

	providerConfig := loadProviderConfig()
	providerConfig.Logger = logger
	providerConfig.Executor = ratelimit.NewExecutor(ratelimit.DefaultPolicy(),
		ratelimit.WithLogger(logger),
		ratelimit.WithMetrics(ratelimit.NewMetrics(registry)),
	)
	provider, providerErr := twitter.NewClient(providerConfig)
	if providerErr != nil {
		return configError(configCodeMissingTwitterClient, providerErr.Error())
	}

	router, routerErr := buildRouter(serverConfig, routerDependencies{
		Logger:             logger,
		Registry:           registry,
		Provider:           provider,
		States:             states,
		Users:              users,
		EnableCORS:         viper.GetBool("enable_cors"),
		CORSAllowedOrigins: viper.GetStringSlice("cors_allowed_origins"),
	})
	if routerErr != nil {
		return routerErr
	}

	go runSweepers(runCtx, serverConfig.PKCETTL, states, provider, durable, logger)

	listenAddr := viper.GetString("listen_addr")
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-runCtx.Done()
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	serveErr := serveHTTP(server)
	states.WaitForDurableWrites()
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", serveErr)
	}
	return nil
}

type routerDependencies struct {
	Logger             *zap.Logger
	Registry           *prometheus.Registry
	Provider           authkit.Provider
	States             *authkit.PKCEStore
	Users              authkit.UserStore
	EnableCORS         bool
	CORSAllowedOrigins []string
}

func buildRouter(serverConfig authkit.ServerConfig, dependencies routerDependencies) (*gin.Engine, error) {
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := dependencies.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if dependencies.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, dependencies.CORSAllowedOrigins)
		if corsErr != nil {
			return nil, corsErr
		}
		router.Use(corsMiddleware)
	}

	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	metrics := authkit.NewPrometheusMetrics(registry)
	sessions := authkit.NewSessionManager(serverConfig, nil)
	flow, flowErr := authkit.NewLoginFlow(authkit.LoginFlowDependencies{
		Provider:             dependencies.Provider,
		States:               dependencies.States,
		Sessions:             sessions,
		Users:                dependencies.Users,
		Metrics:              metrics,
		Logger:               logger,
		FollowTargetUsername: serverConfig.FollowTargetUsername,
		FollowCheckTimeout:   serverConfig.FollowCheckTimeout,
	})
	if flowErr != nil {
		return nil, flowErr
	}

	routeDependencies := authkit.RouteDependencies{
		Configuration: serverConfig,
		Flow:          flow,
		Provider:      dependencies.Provider,
		Metrics:       metrics,
		Logger:        logger,
	}
	authkit.MountAuthRoutes(router, routeDependencies)
	authkit.MountProviderAPIRoutes(router, routeDependencies)

	authenticator := authkit.NewAuthenticator(serverConfig, sessions, dependencies.Users, nil, logger)
	protected := router.Group("/api")
	protected.Use(authkit.RequireSession(authenticator, logger))
	protected.GET("/me", web.HandleWhoAmI(logger))

	return router, nil
}

func openUserStore(ctx context.Context, databaseURL string, logger *zap.Logger) (authkit.UserStore, func(), error) {
	if strings.TrimSpace(databaseURL) == "" {
		logger.Info("using in-memory user store")
		return web.NewInMemoryUsers(), func() {}, nil
	}
	database, err := authkit.OpenDatabase(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using persistent user store", zap.String("driver", database.Driver()))
	return authkit.NewDatabaseUserStore(database), func() { _ = database.Close() }, nil
}

// openPKCEDurableTier selects the shared PKCE tier by URL scheme. An empty URL keeps the store memory-only.
func openPKCEDurableTier(ctx context.Context, storeURL string) (authkit.DurablePKCEStore, func(), error) {
	trimmed := strings.TrimSpace(storeURL)
	if trimmed == "" {
		return nil, func() {}, nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, nil, configError(configCodeUnsupportedPKCEStore, err.Error())
	}
	switch strings.ToLower(parsed.Scheme) {
	case "redis", "rediss":
		store, openErr := authkit.OpenRedisPKCEStore(ctx, trimmed)
		if openErr != nil {
			return nil, nil, openErr
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres", "postgresql":
		pool, poolErr := authkitpg.BuildPool(ctx, trimmed)
		if poolErr != nil {
			return nil, nil, poolErr
		}
		if schemaErr := authkitpg.EnsureSchema(ctx, pool); schemaErr != nil {
			pool.Close()
			return nil, nil, schemaErr
		}
		return authkitpg.NewPostgresPKCEStore(pool), pool.Close, nil
	case "sqlite":
		database, openErr := authkit.OpenDatabase(ctx, trimmed)
		if openErr != nil {
			return nil, nil, openErr
		}
		store, storeErr := authkit.OpenDatabasePKCEStore(ctx, database)
		if storeErr != nil {
			_ = database.Close()
			return nil, nil, storeErr
		}
		return store, func() { _ = database.Close() }, nil
	default:
		return nil, nil, configError(configCodeUnsupportedPKCEStore, "unsupported scheme "+parsed.Scheme)
	}
}

type expiredPKCEPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type rotationPurger interface {
	PurgeRotations() int
}

// runSweepers purges expired local state, spent refresh tokens, and expired durable rows until ctx ends.
func runSweepers(ctx context.Context, interval time.Duration, states *authkit.PKCEStore, rotations rotationPurger, durable authkit.DurablePKCEStore, logger *zap.Logger) {
	if interval <= 0 {
		interval = authkit.DefaultPKCETTL
	}
	go states.RunSweeper(ctx, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	purger, purgesDurable := durable.(expiredPKCEPurger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rotations.PurgeRotations()
			if !purgesDurable {
				continue
			}
			if removed, err := purger.DeleteExpired(ctx, time.Now().UTC()); err != nil {
				logger.Warn("durable pkce sweep failed",
					zap.String("code", "pkce_store.sweep_failed"),
					zap.Error(err))
			} else if removed > 0 {
				logger.Debug("durable pkce sweep", zap.Int64("removed", removed))
			}
		}
	}
}

const requestIDHeader = "X-Request-Id"

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		requestID := strings.TrimSpace(contextGin.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		contextGin.Header(requestIDHeader, requestID)
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.String("request_id", requestID),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}
