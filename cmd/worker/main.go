package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vmforge/engine/internal/orchestrator"
	"github.com/vmforge/engine/internal/provider"
	"github.com/vmforge/engine/internal/provisioner/terraform"
	"github.com/vmforge/engine/internal/queue/tasks"
	"github.com/vmforge/engine/internal/reconciler"
	"github.com/vmforge/engine/internal/repository"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}

	v, err := vault.New(cfg.MasterKey())
	if err != nil {
		log.Fatal("invalid master key", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		log.Fatal("failed to create workspace dir", zap.Error(err))
	}

	machineRepo := repository.NewMachineRepository(db)
	deployRepo := repository.NewDeploymentRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	sshKeyRepo := repository.NewSSHKeyRepository(db)
	firewallRepo := repository.NewFirewallRepository(db)
	bootstrapRepo := repository.NewBootstrapRepository(db)

	newClient := provider.NewFactory(cfg.ProviderBaseURL)

	// viewers connected to the api process receive lines over redis
	broadcast := orchestrator.NewBroadcastRegistry()
	broadcast.AddTap(orchestrator.NewRedisTap(rdb))

	orc := orchestrator.New(orchestrator.Config{
		Machines:    machineRepo,
		Deployments: deployRepo,
		Accounts:    accountRepo,
		SSHKeys:     sshKeyRepo,
		Firewalls:   firewallRepo,
		Bootstraps:  bootstrapRepo,
		Vault:       v,
		NewRunner: func(workspaceID string, logf terraform.LogFunc) orchestrator.Runner {
			return terraform.NewRunner(cfg.WorkspaceDir, workspaceID, logf)
		},
		NewClient: newClient,
		Broadcast: broadcast,
		ModuleDir: cfg.TFModuleDir,
	})

	rec := reconciler.New(machineRepo, accountRepo, v, newClient)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: 0}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeDeploymentRun, tasks.NewDeploymentTaskHandler(orc).HandleDeploymentRun)
	mux.HandleFunc(tasks.TypeReconcileSweep, tasks.NewReconcileTaskHandler(rec).HandleReconcileSweep)

	// periodic reconciliation; sweeps queue through asynq so a crashed
	// worker never loses one silently
	client := asynq.NewClient(redisOpt)
	defer client.Close()
	go func() {
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := client.EnqueueContext(ctx, tasks.NewReconcileSweepTask()); err != nil {
					logger.L().Error("enqueue reconcile sweep failed", zap.Error(err))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("asynq worker starting",
			zap.Int("concurrency", cfg.AsynqConcurrency),
			zap.Duration("reconcile_interval", cfg.ReconcileInterval))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.L().Info("shutdown signal received")
	case err := <-errCh:
		logger.L().Error("worker stopped with error", zap.Error(err))
	}

	srv.Shutdown()
}
