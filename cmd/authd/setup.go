package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/aelexs/authcore/internal/audit"
	"github.com/aelexs/authcore/internal/auth"
	"github.com/aelexs/authcore/internal/authadapter"
	"github.com/aelexs/authcore/internal/authreducer"
	"github.com/aelexs/authcore/internal/config"
	"github.com/aelexs/authcore/internal/domain"
	"github.com/aelexs/authcore/internal/dynamo"
	"github.com/aelexs/authcore/internal/eventstore"
	"github.com/aelexs/authcore/internal/passkeystore"
	"github.com/aelexs/authcore/internal/postgres"
	"github.com/aelexs/authcore/internal/redis"
	"github.com/aelexs/authcore/internal/server"
	"github.com/aelexs/authcore/internal/sessionstore"
	"github.com/aelexs/authcore/internal/tokenstore"
)

// Table name matches the LocalStack init script (scripts/localstack-init.sh).
const auditEventsTable = "auth_events"

// JWT issuer/audience match the domain convention.
const (
	jwtIssuer      = "authcore"
	jwtAudience    = "authcore-api"
	accessTokenTTL = 15 * time.Minute
)

// setup is the authd service composition root. It creates infrastructure
// clients, event-sourced and cache-backed stores, the reducer environment,
// and registers the HTTP handlers.
func setup(ctx context.Context, deps server.SetupDeps) (func(context.Context) error, error) {
	cfg := deps.Config
	logger := deps.Logger
	clock := domain.RealClock{}

	// 1. Infrastructure clients.
	pgPool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:         cfg.Postgres.DSN,
		ConnTimeout: cfg.Postgres.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("authd setup: create postgres pool: %w", err)
	}
	if err := eventstore.EnsureSchema(ctx, pgPool); err != nil {
		return nil, fmt.Errorf("authd setup: ensure event store schema: %w", err)
	}

	redisClient := redis.NewClient(redis.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})

	dynamoClient, err := dynamo.NewClient(ctx, dynamo.Config{
		Endpoint: cfg.DynamoDB.Endpoint,
		Region:   cfg.AWS.Region,
		Timeout:  cfg.DynamoDB.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("authd setup: create dynamo client: %w", err)
	}

	// 2. Core stores.
	eventLog := eventstore.NewStore(pgPool, clock)
	projections := eventstore.NewProjections(pgPool)
	oauthTokens := eventstore.NewTokenCache(pgPool)
	passkeys := passkeystore.NewStore(pgPool)
	tokens := tokenstore.NewRedisStore(redisClient.RDB, clock)
	sessions := sessionstore.NewRedisStore(redisClient.RDB, clock)
	auditStore := audit.NewStore(dynamoClient.DB, auditEventsTable)
	monitor := audit.NewSecurityMonitor(auditStore)

	// 3. Environment-dependent adapters.
	keyStore, err := createKeyStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("authd setup: create key store: %w", err)
	}
	emailSender := createEmailSender(ctx, cfg, logger)

	oauthExchanger, err := authadapter.NewOIDCExchanger(ctx, cfg.OAuth.Providers)
	if err != nil {
		return nil, fmt.Errorf("authd setup: create oauth exchanger: %w", err)
	}
	webauthnVerifier := authadapter.NewWebAuthnVerifier()
	riskCalc := authadapter.NewHeuristicRiskCalculator(sessions)
	revocations := authadapter.NewRevocationStore(redisClient.RDB)

	// 4. JWT minting/validation.
	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore:  keyStore,
		AccessTTL: accessTokenTTL,
		Issuer:    jwtIssuer,
		Audience:  jwtAudience,
		Clock:     clock,
	})
	validator := auth.NewValidator(auth.ValidatorConfig{
		KeyStore: keyStore,
		Issuer:   jwtIssuer,
		Audience: jwtAudience,
		Clock:    clock,
	})

	// 5. Reducer environment. Publisher is nil: no reducer path currently
	// produces a PublishEvent effect, and effect.Executor tolerates a nil
	// publisher as long as it is never invoked.
	env := &authreducer.Environment{
		Clock: clock,

		Tokens:   tokens,
		Sessions: sessions,
		Passkeys: passkeys,
		Users:    projections,

		OAuthTokens: oauthTokens,
		EventLog:    eventLog,
		Publisher:   nil,

		OAuth:    oauthExchanger,
		Email:    emailSender,
		WebAuthn: webauthnVerifier,
		Risk:     riskCalc,

		BaseURL:    cfg.OAuth.BaseURL,
		VerifyPath: cfg.OAuth.VerifyPath,

		RPOrigin: cfg.OAuth.RPOrigin,
		RPID:     cfg.OAuth.RPID,

		Policy: authreducer.Policy{
			OAuthStateTTL:         orDefault(cfg.Token.OAuthStateTTL, domain.OAuthStateTTL),
			MagicLinkTTL:          orDefault(cfg.Token.MagicLinkTTL, domain.MagicLinkTokenTTL),
			PasskeyChallengeTTL:   orDefault(cfg.Token.PasskeyChallengeTTL, domain.PasskeyChallengeTTL),
			SessionTTL:            orDefault(cfg.Session.DefaultTTL, domain.DefaultSessionTTL),
			SessionIdleTimeout:    orDefault(cfg.Session.IdleTimeout, domain.DefaultIdleTimeout),
			MaxConcurrentSessions: intOrDefault(cfg.Session.MaxConcurrent, domain.DefaultMaxConcurrent),
		},
	}

	// 6. Register HTTP handlers.
	h := &handlers{
		env:         env,
		minter:      minter,
		validator:   validator,
		revocations: revocations,
		monitor:     monitor,
		logger:      logger,
	}
	h.register(deps.HTTPMux)

	logger.InfoContext(ctx, "authd auth core initialized")

	cleanup := func(_ context.Context) error {
		pgPool.Close()
		return redisClient.Close()
	}

	return cleanup, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func intOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// createKeyStore returns the appropriate JWT key store for the environment.
// Local: generates an ephemeral RSA key pair (no AWS dependency).
// Production: loads the signing key from AWS Secrets Manager and public
// keys from SSM Parameter Store.
func createKeyStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.KeyStore, error) {
	if cfg.IsLocal() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generate dev RSA key: %w", err)
		}
		logger.Info("using ephemeral RSA key for local development", slog.String("key_id", "dev-key-001"))
		return auth.NewStaticKeyStore(key, "dev-key-001"), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for key store: %w", err)
	}

	smClient := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = &cfg.AWS.Endpoint
		}
	})
	ssmClient := ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = &cfg.AWS.Endpoint
		}
	})

	return authadapter.NewAWSKeyStore(ctx, smClient, ssmClient, domain.RealClock{})
}

// createEmailSender returns the appropriate magic-link email sender for the
// environment. Local: logs the link instead of sending real mail.
// Production: delivers through Amazon SES.
func createEmailSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) authreducer.EmailSender {
	if cfg.IsLocal() {
		logger.Info("using log-only email sender for local development")
		return authadapter.NewLogEmailSender(logger)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Warn("failed to load AWS config for SES, falling back to log-only sender", slog.Any("error", err))
		return authadapter.NewLogEmailSender(logger)
	}

	sesClient := ses.NewFromConfig(awsCfg, func(o *ses.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = &cfg.AWS.Endpoint
		}
	})
	return authadapter.NewSESEmailSender(sesClient, cfg.SES.FromAddress)
}
