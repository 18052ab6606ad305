package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bookshop/internal/config"
	"bookshop/internal/handler"
	"bookshop/internal/infra/cache"
	"bookshop/internal/infra/db"
	"bookshop/internal/infra/payment"
	infraRepo "bookshop/internal/infra/repository"
	"bookshop/internal/realtime"
	"bookshop/internal/repository"
	"bookshop/internal/server"
	"bookshop/internal/usecase"
	"bookshop/internal/validator"
	"bookshop/internal/worker"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
)

func main() {
	//.envは無くてもよい（本番は環境変数）
	_ = godotenv.Load()

	logger := log.New("bookshop")
	logger.SetHeader(`${time_rfc3339} ${level} ${short_file}:${line}`)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.SetLevel(parseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Errorf("server stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(gormDB); err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	//Repository（GORM実装）生成
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	addressRepo := infraRepo.NewAddressGormRepository(gormDB)
	auditRepo := infraRepo.NewAuditLogGormRepository(gormDB)
	cartRepo := infraRepo.NewCartGormRepository(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)
	orderRepo := infraRepo.NewOrderGormRepository(gormDB)
	orderItemRepo := infraRepo.NewOrderItemGormRepository(gormDB)
	txManager := infraRepo.NewTxManagerGorm(gormDB)

	var tokenStore repository.RefreshTokenStore
	if cfg.TokenStore == config.TokenStoreRedis {
		tokenStore = infraRepo.NewRefreshTokenRedisStore(redisClient)
	} else {
		tokenStore = infraRepo.NewRefreshTokenGormStore(gormDB)
	}

	//通知
	hub := realtime.NewHub()
	var publisher usecase.Publisher = hub
	if cfg.RealtimeRelay == config.RelayRedis {
		relay := realtime.NewRedisRelay(redisClient, hub, logger)
		publisher = relay
		go func() {
			if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("realtime relay stopped: %v", err)
			}
		}()
	}
	events := usecase.NewOrderEvents(orderRepo, orderItemRepo, usecase.NewChannelNotifier(publisher), logger)

	//決済
	gateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		APIURL:        cfg.StripeAPIURL,
	})
	payments := usecase.NewPaymentSessionBuilder(gateway, productRepo, orderRepo, userRepo, usecase.PaymentConfig{
		Currency:   cfg.Currency,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
		Timeout:    cfg.PaymentTimeout,
	}, logger)

	//Usecase生成
	tokens := usecase.NewTokenService(tokenStore, userRepo, usecase.TokenConfig{
		Secret:     cfg.JWTSecret,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, logger)
	authUC := usecase.NewAuthUsecase(userRepo, tokens, auditRepo, validator.NewAuthValidator(userRepo))
	addressUC := usecase.NewAddressUsecase(addressRepo)
	cartUC := usecase.NewCartUsecase(cartRepo, cartRepo, productRepo)
	pricing := usecase.Pricing{TaxRate: cfg.TaxRate, ShippingCost: cfg.ShippingCost}
	orderUC := usecase.NewOrderUsecase(txManager, orderRepo, orderItemRepo, addressRepo, payments, events, pricing, logger)
	adminOrderUC := usecase.NewAdminOrderUsecase(txManager, orderRepo, orderItemRepo, auditRepo, events, logger)
	webhookUC := usecase.NewWebhookUsecase(gateway, txManager, orderRepo, events, logger)

	//通知漏れの再送
	sweeper := worker.NewNotifySweeper(events, cfg.NotifySweepInterval, cfg.NotifyGracePeriod, logger)
	go sweeper.Run(ctx)

	//Handler生成
	e := server.New(cfg, logger, userRepo, server.Handlers{
		Auth:       handler.NewAuthHandler(authUC),
		AdminUser:  handler.NewAdminUserHandler(cfg, userRepo, authUC),
		Address:    handler.NewAddressHandler(addressUC),
		Cart:       handler.NewCartHandler(cartUC),
		Order:      handler.NewOrderHandler(orderUC),
		AdminOrder: handler.NewAdminOrderHandler(adminOrderUC),
		Webhook:    handler.NewWebhookHandler(webhookUC),
		Cable:      handler.NewCableHandler(cfg, userRepo, hub),
	})

	addr := cfg.Port
	if !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}
	logger.Infof("listening on %s", addr)
	return server.Start(ctx, e, addr)
}

func parseLevel(s string) log.Lvl {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return log.DEBUG
	case "WARN":
		return log.WARN
	case "ERROR":
		return log.ERROR
	case "OFF":
		return log.OFF
	default:
		return log.INFO
	}
}
