package main

import (
	"context"
	"os/signal"
	"syscall"

	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/identity"
	"storefront/internal/infra/db"
	"storefront/internal/infra/kv"
	"storefront/internal/infra/memory"
	infraRepo "storefront/internal/infra/repository"
	"storefront/internal/infra/storage"
	"storefront/internal/logger"
	repo "storefront/internal/repository"
	"storefront/internal/server"
	"storefront/internal/usecase"

	"github.com/spf13/cobra"
)

var serveInMemory bool

// storefront serve
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := boot()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveInMemory, "memory", false, "keep all data in process memory (no database)")
}

// kvStores は redis かメモリのどちらか
type kvStores struct {
	carts       repo.CartStore
	revocations repo.RevocationStore
	catalog     repo.CatalogCache
}

func openKV(ctx context.Context, cfg config.Config) (kvStores, func(), error) {
	if cfg.RedisAddr == "" {
		m := kv.NewMemory()
		logger.Warn("REDIS_ADDR is empty; carts and revocations are kept in memory")
		return kvStores{carts: m, revocations: m, catalog: m}, func() {}, nil
	}

	rdb, err := kv.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return kvStores{}, nil, err
	}
	return kvStores{
		carts:       kv.NewRedisCartStore(rdb),
		revocations: kv.NewRedisRevocationStore(rdb),
		catalog:     kv.NewRedisCatalogCache(rdb),
	}, func() { _ = rdb.Close() }, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	//DB（--memory ならメモリ実装）
	var (
		tx    repo.TransactionManager
		repos repo.TxRepos
	)
	if serveInMemory {
		store := memory.NewStore()
		tx, repos = store, store
	} else {
		gormDB, err := db.Connect(cfg)
		if err != nil {
			return err
		}
		if err := db.Migrate(gormDB); err != nil {
			return err
		}
		tx, repos = infraRepo.NewTxManagerGorm(gormDB), infraRepo.NewRepos(gormDB)
	}

	stores, closeKV, err := openKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeKV()

	disk, err := storage.New(ctx, cfg)
	if err != nil {
		return err
	}

	//usecaseに渡す部品
	idGen := &uuidGenerator{}
	clock := &realClock{}
	gate := identity.ContextGate{}

	hub := identity.NewHub()
	verifier := identity.NewVerifier(cfg.JWTSecret, stores.revocations, hub)
	go logIdentityChanges(ctx, hub)

	//Usecase生成
	carts := usecase.NewCartUsecase(stores.carts, repos.Products(), cfg.CartTTL)
	checkout := usecase.NewCheckoutUsecase(usecase.CheckoutDeps{
		Tx:      tx,
		Repos:   repos,
		Carts:   carts,
		Gate:    gate,
		Catalog: stores.catalog,
		IDGen:   idGen,
		Clock:   clock,
		Mode:    usecase.CommitMode(cfg.CheckoutMode),
	})
	orders := usecase.NewOrderUsecase(tx, gate)
	products := usecase.NewProductUsecase(tx, repos.Products(), stores.catalog, disk, idGen, clock, cfg.CatalogCacheTTL)
	adminOrders := usecase.NewAdminOrderUsecase(tx, stores.catalog, idGen, clock)
	auditLogs := usecase.NewAuditLogUsecase(repos.AuditLogs())

	//Handler生成
	opts := server.Options{
		Handlers: server.Handlers{
			Products:      handler.NewProductHandler(products),
			Cart:          handler.NewCartHandler(carts),
			Orders:        handler.NewOrderHandler(orders, checkout),
			Auth:          handler.NewAuthHandler(verifier, verifier, cfg),
			AdminProducts: handler.NewAdminProductHandler(products),
			AdminOrders:   handler.NewAdminOrderHandler(adminOrders),
			AdminAudit:    handler.NewAdminAuditHandler(auditLogs),
		},
		Verifier: verifier,
		Admins:   cfg,
	}
	if local, ok := disk.(*storage.LocalDisk); ok {
		opts.StaticRoot = local.Root()
	}

	logger.Info("starting", "checkout_mode", cfg.CheckoutMode, "db", cfg.DBDriver, "in_memory", serveInMemory)
	return server.Start(ctx, server.New(opts), ":"+cfg.Port)
}

// サインイン・サインアウトをログに残す
func logIdentityChanges(ctx context.Context, hub *identity.Hub) {
	events, cancel := hub.Subscribe(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Identity != nil {
				logger.Info("identity signed in", "user_id", ev.Identity.ID)
			} else if ev.Previous != nil {
				logger.Info("identity signed out", "user_id", ev.Previous.ID)
			}
		}
	}
}
