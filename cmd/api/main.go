package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vmforge/engine/internal/api"
	"github.com/vmforge/engine/internal/api/handlers"
	"github.com/vmforge/engine/internal/orchestrator"
	"github.com/vmforge/engine/internal/repository"
	"github.com/vmforge/engine/internal/services"
	"github.com/vmforge/engine/internal/vault"
	"github.com/vmforge/engine/pkg/config"
	"github.com/vmforge/engine/pkg/database"
	"github.com/vmforge/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("starting vmforge api",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	v, err := vault.New(cfg.MasterKey())
	if err != nil {
		log.Fatal("invalid master key", zap.Error(err))
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: 0}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: 0})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	// live log lines produced by the worker arrive over redis
	broadcast := orchestrator.NewBroadcastRegistry()
	go orchestrator.RunRedisBridge(ctx, rdb, broadcast)

	userRepo := repository.NewUserRepository(db)
	teamRepo := repository.NewTeamRepository(db)
	machineRepo := repository.NewMachineRepository(db)
	deployRepo := repository.NewDeploymentRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	sshKeyRepo := repository.NewSSHKeyRepository(db)
	firewallRepo := repository.NewFirewallRepository(db)
	bootstrapRepo := repository.NewBootstrapRepository(db)

	jwtSecret := []byte(cfg.JWTSecret)
	authSvc := services.NewAuthService(userRepo, teamRepo, jwtSecret)
	deploySvc := services.NewDeploymentService(machineRepo, deployRepo, asynqClient)
	machineSvc := services.NewMachineService(machineRepo, accountRepo, deploySvc)
	credSvc := services.NewCredentialService(accountRepo, v, cfg.OAuthClientID)
	assetSvc := services.NewAssetService(sshKeyRepo, firewallRepo, bootstrapRepo)

	validate := validator.New(validator.WithRequiredStructEnabled())

	router := api.NewRouter(api.Dependencies{
		HMACSecret:         jwtSecret,
		AuthHandler:        handlers.NewAuthHandler(authSvc),
		MachinesHandler:    handlers.NewMachinesHandler(machineSvc, deploySvc, validate),
		DeploymentsHandler: handlers.NewDeploymentsHandler(deploySvc, broadcast),
		AccountsHandler:    handlers.NewAccountsHandler(credSvc),
		AssetsHandler:      handlers.NewAssetsHandler(assetSvc),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	log.Info("server stopped")
}
