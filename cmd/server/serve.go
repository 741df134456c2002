package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blues/pes/internal/config"
	"github.com/blues/pes/internal/database"
	"github.com/blues/pes/internal/ethereum"
	"github.com/blues/pes/internal/gateway"
	"github.com/blues/pes/internal/lock"
	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/logic"
	"github.com/blues/pes/internal/model"
	"github.com/blues/pes/internal/router"
	"github.com/blues/pes/internal/task"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// 初始化数据库
	db, err := database.Init(cfg.Database)
	if err != nil {
		return err
	}

	locker, err := newLocker(cfg)
	if err != nil {
		return err
	}

	rails, checker, err := newRails(cfg)
	if err != nil {
		return err
	}

	var payment gateway.Payment
	if cfg.Payment.BaseURL != "" {
		payment = gateway.NewHTTPPayment(cfg.Payment.BaseURL, cfg.Payment.APIKey, cfg.Payment.Timeout)
	} else {
		logger.Warn("payment.base_url is empty, investor refunds will be recorded as failed")
	}

	credits := gateway.NewCreditLedger(db)
	engine := logic.New(logic.Options{
		DB:            db,
		Locker:        locker,
		Entitlement:   credits,
		Payment:       payment,
		RefundTimeout: cfg.Payment.Timeout,
	})

	// 启动定时任务
	manager, err := task.NewManager(engine.Payouts, rails, checker, cfg.Task)
	if err != nil {
		return err
	}
	engine.SetNotifier(manager.Dispatcher())
	if err := manager.Start(); err != nil {
		return err
	}
	defer manager.Stop()

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Setup(engine, credits, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newLocker 项目级互斥，多实例部署时使用 redis
func newLocker(cfg *config.Config) (lock.Locker, error) {
	switch cfg.Lock.Backend {
	case "", "memory":
		return lock.NewKeyedMutex(cfg.Lock.WaitTimeout), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return lock.NewRedisLocker(client, cfg.Lock.TTL, cfg.Lock.WaitTimeout), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
}

// newRails 按配置组装打款通道，未配置服务商的方式走人工处理
func newRails(cfg *config.Config) (gateway.Rails, task.StatusChecker, error) {
	railTimeout := time.Duration(cfg.Task.RailTimeout) * time.Second
	provider := func(method model.PayoutMethod, p config.ProviderConfig) gateway.PayoutRail {
		if p.BaseURL == "" {
			return gateway.NewManualRail(method)
		}
		return gateway.NewHTTPRail(p.BaseURL, p.APIKey, railTimeout)
	}

	rails := gateway.Rails{
		model.PayoutMethodBank:   provider(model.PayoutMethodBank, cfg.Rail.Bank),
		model.PayoutMethodPayPal: provider(model.PayoutMethodPayPal, cfg.Rail.PayPal),
		model.PayoutMethodCrypto: gateway.NewManualRail(model.PayoutMethodCrypto),
	}
	if !cfg.Chain.Enabled {
		return rails, nil, nil
	}

	// 初始化以太坊客户端
	client, err := ethereum.Init(cfg.Chain)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Crypto payouts sent from %s on %s", client.GetAccountAddress().Hex(), cfg.Chain.ChainType)
	rails[model.PayoutMethodCrypto] = client
	return rails, client, nil
}
