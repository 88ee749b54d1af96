package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/oauth2"
	oauthecho "go.pilab.hu/oauth2/api/echo"
	"go.pilab.hu/oauth2/cache"
	"go.pilab.hu/oauth2/config"
	"go.pilab.hu/oauth2/memory"
	"go.pilab.hu/oauth2/mongodb"
	"go.pilab.hu/oauth2/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.Init(ctx, "oauth2-server")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize tracing")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("trace provider shutdown failed")
			}
		}()
	}

	// One RSA key signs every token the server mints. Stored under the
	// empty client id so introspection and JWKS can find it as the
	// global key.
	signingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate signing key")
	}
	codec := oauth2.NewRSACodec(signingKey)

	storage, cleanup, err := buildStorage(ctx, cfg, signingKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer cleanup()

	tokenCache := buildTokenCache(cfg)
	defer tokenCache.Close()

	engineCfg := cfg.EngineConfig()
	if err := engineCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid engine configuration")
	}

	scopes := oauth2.NewScopeValidator(storage.Scopes)
	tokenSvc := oauth2.NewTokenService(storage.Tokens, tokenCache, engineCfg, codec)
	idTokenSvc := oauth2.NewIDTokenService(codec, engineCfg)
	clientAuth := oauth2.NewClientAuthenticator(storage.Clients, engineCfg)
	deviceSvc := oauth2.NewDeviceService(storage.DeviceAuths, engineCfg)

	codeRT := oauth2.NewCodeResponseType(storage.AuthCodes, engineCfg)
	authorizeCtrl := oauth2.NewAuthorizeController(storage.Clients, scopes, engineCfg,
		codeRT,
		oauth2.NewTokenResponseType(tokenSvc),
		oauth2.NewIDTokenResponseType(idTokenSvc),
		oauth2.NewTokenIDTokenResponseType(oauth2.ResponseTypeTokenIDToken, tokenSvc, idTokenSvc),
		oauth2.NewTokenIDTokenResponseType(oauth2.ResponseTypeIDTokenToken, tokenSvc, idTokenSvc),
		oauth2.NewCodeIDTokenResponseType(codeRT, idTokenSvc),
	)

	tokenCtrl := oauth2.NewTokenController(clientAuth, tokenSvc,
		oauth2.NewOpenIDAuthorizationCodeGrant(oauth2.NewAuthorizationCodeGrant(storage.AuthCodes)),
		oauth2.NewOpenIDRefreshTokenGrant(oauth2.NewRefreshTokenGrant(storage.Tokens, engineCfg), codec, engineCfg),
		oauth2.NewPasswordGrant(storage.Users),
		oauth2.NewClientCredentialsGrant(),
		oauth2.NewDeviceCodeGrant(storage.DeviceAuths),
	)

	resourceCtrl := oauth2.NewResourceController(storage.Tokens, tokenCache)
	introspectCtrl := oauth2.NewIntrospectionController(storage.Keys, storage.Jti)
	jwksSvc := oauth2.NewJWKSService(storage.Keys)

	apiSurface := oauthecho.NewOAuth2API(
		authorizeCtrl, tokenCtrl, resourceCtrl, introspectCtrl,
		deviceSvc, tokenSvc, jwksSvc, clientAuth, storage, engineCfg,
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	apiSurface.RegisterRoutes(e)

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Str("issuer", cfg.Issuer).Msg("starting server")
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func setupLogging(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// buildStorage selects the persistence backend and registers the signing key
// with it. The returned cleanup releases the backend's resources.
func buildStorage(ctx context.Context, cfg *config.ServerConfig, key *rsa.PrivateKey) (*oauth2.Storage, func(), error) {
	switch cfg.StorageBackend {
	case "memory":
		store := memory.New()
		store.SetSigningKey("", key, "RS256")
		log.Warn().Msg("using in-memory storage, state is lost on restart")
		return store.Storage(), func() {}, nil

	default:
		db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		provider, err := mongodb.NewRepositoryProvider(ctx, db)
		if err != nil {
			mongodb.Disconnect(ctx, db)
			return nil, nil, err
		}
		if err := provider.Keys().StoreKey(ctx, "", key, "RS256"); err != nil {
			mongodb.Disconnect(ctx, db)
			return nil, nil, err
		}
		log.Info().Str("database", cfg.MongoDBName).Msg("connected to MongoDB")
		cleanup := func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongodb.Disconnect(shutdownCtx, db)
		}
		return provider.Storage(), cleanup, nil
	}
}

// buildTokenCache prefers a shared Redis cache when one is configured so
// several instances agree on revocations.
func buildTokenCache(cfg *config.ServerConfig) oauth2.TokenStore {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryTokenStore(time.Minute)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	log.Info().Str("addr", cfg.RedisAddr).Msg("using Redis token cache")
	return cache.NewRedisTokenStore(client, cfg.RedisPrefix)
}
