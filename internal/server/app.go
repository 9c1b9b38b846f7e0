// Package server wires the passkeeper security engine: storage, cipher,
// sessions, mail delivery and services, plus the gRPC health endpoint and a
// housekeeping loop for expired codes and refresh tokens.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/revpass/passkeeper/internal/cryptox"
	"github.com/revpass/passkeeper/internal/logging"
	"github.com/revpass/passkeeper/internal/mailer"
	"github.com/revpass/passkeeper/internal/passgen"
	"github.com/revpass/passkeeper/internal/server/config"
	"github.com/revpass/passkeeper/internal/server/repositories/repomanager"
	"github.com/revpass/passkeeper/internal/server/services"
	"github.com/revpass/passkeeper/internal/server/sessions"

	gs "github.com/revpass/passkeeper/internal/server/grpc"
)

const mailSendTimeout = 15 * time.Second

// Services groups the engine's entry points.
type Services struct {
	Users        *services.UserService
	Verification *services.VerificationService
	Recovery     *services.RecoveryService
	Vault        *services.VaultService
	Audit        *services.AuditService
	Generator    *passgen.Generator
}

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	redis    *redis.Client
	mail     *mailer.Dispatcher
	services Services
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}
	if err := app.build(ctx, rm); err != nil {
		app.close()
		return nil, err
	}

	return app, nil
}

func (app *App) build(ctx context.Context, rm repomanager.RepositoryManager) error {
	c := app.config

	var opts []cryptox.CipherOption
	if c.CipherRandomIV {
		opts = append(opts, cryptox.WithRandomIV())
	}
	cipher, err := cryptox.NewSecretCipher(c.EncryptionSecret, opts...)
	if err != nil {
		return fmt.Errorf("cipher: %w", err)
	}

	hasher := cryptox.NewBcryptHasher(c.BcryptCost)

	store, err := app.sessionStore(ctx)
	if err != nil {
		return err
	}

	sender, err := mailer.NewSender(mailer.Config{
		PostmarkServerToken:  c.PostmarkServerToken,
		PostmarkAccountToken: c.PostmarkAccountToken,
		SenderEmail:          c.MailSender,
		SupportEmail:         c.MailSupport,
		DevDir:               c.MailDevDir,
	})
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	app.mail = mailer.NewDispatcher(sender, app.logger, c.MailWorkers, c.MailQueueSize, mailSendTimeout)

	verification := services.NewVerificationService(app.db, rm, app.mail, app.logger, c.OTPExpiry)
	app.services = Services{
		Users:        services.NewUserService(app.db, rm, verification, store, hasher, app.logger, c),
		Verification: verification,
		Recovery:     services.NewRecoveryService(app.db, rm, hasher, app.logger),
		Vault:        services.NewVaultService(app.db, rm, cipher, hasher, app.logger),
		Audit:        services.NewAuditService(app.db, rm, cipher, app.logger, c.OldPasswordDays),
		Generator: passgen.NewGenerator(passgen.Bounds{
			MinLength: c.GeneratorMinLength,
			MaxLength: c.GeneratorMaxLength,
			MaxCount:  c.GeneratorMaxCount,
		}),
	}

	return nil
}

// sessionStore uses Redis when a URL is configured and process memory otherwise.
func (app *App) sessionStore(ctx context.Context) (sessions.Store, error) {
	if app.config.RedisURL == "" {
		app.logger.Info(ctx, "using in-memory session store")
		return sessions.NewMemoryStore(), nil
	}

	client, err := sessions.Connect(ctx, sessions.RedisConfig{
		ConnectionURL:  app.config.RedisURL,
		RetryAttempts:  3,
		RetryInterval:  time.Second,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	app.redis = client

	return sessions.NewRedisStore(client, "passkeeper:"), nil
}

// Services exposes the engine to embedding code.
func (app *App) Services() Services {
	return app.services
}

func (app *App) healthChecks() map[string]gs.CheckFunc {
	checks := map[string]gs.CheckFunc{
		"postgres": app.db.PingContext,
	}
	if app.redis != nil {
		checks["redis"] = sessions.Healthcheck(app.redis)
	}
	return checks
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.config.SecretKey, app.healthChecks(), app.config.HousekeepingInterval)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(app.config.HousekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.sweep(ctx)
		}
	}
}

// sweep removes expired or used one-time codes and expired refresh tokens.
func (app *App) sweep(ctx context.Context) {
	codes, err := app.services.Verification.Cleanup(ctx)
	if err != nil {
		app.logger.Error(ctx, "one-time code cleanup failed", "error", err)
	}

	tokens, err := app.services.Users.CleanupRefreshTokens(ctx)
	if err != nil {
		app.logger.Error(ctx, "refresh token cleanup failed", "error", err)
	}

	app.logger.Debug(ctx, "housekeeping done", "codes", codes, "refresh_tokens", tokens)
}

func (app *App) close() {
	if app.mail != nil {
		app.mail.Close()
	}
	if app.redis != nil {
		app.redis.Close()
	}
	if app.db != nil {
		app.db.Close()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.housekeeping(ctx)
	}()

	wg.Wait()

	app.close()
	app.logger.Info(context.Background(), "Stopped")
}
