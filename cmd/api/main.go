package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-seat-hold-booking/internal/api"
	"github.com/sanosuguru/go-seat-hold-booking/internal/api/handler"
	"github.com/sanosuguru/go-seat-hold-booking/internal/api/middleware"
	"github.com/sanosuguru/go-seat-hold-booking/internal/application"
	"github.com/sanosuguru/go-seat-hold-booking/internal/config"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/catalog"
	domainnotification "github.com/sanosuguru/go-seat-hold-booking/internal/domain/notification"
	"github.com/sanosuguru/go-seat-hold-booking/internal/infrastructure/memory"
	"github.com/sanosuguru/go-seat-hold-booking/internal/infrastructure/postgres"
	"github.com/sanosuguru/go-seat-hold-booking/internal/infrastructure/rabbitmq"
	redisinfra "github.com/sanosuguru/go-seat-hold-booking/internal/infrastructure/redis"
	"github.com/sanosuguru/go-seat-hold-booking/internal/notification"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/clock"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/metrics"
	"github.com/sanosuguru/go-seat-hold-booking/internal/worker"
)

func main() {
	cfg := config.Load()

	logger.Set(logger.NewLogger(cfg.App.Env, cfg.App.LogLevel))
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Fatal("起動エラー", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	m := metrics.Init()
	realClock := clock.NewReal()
	checks := map[string]handler.CheckFunc{}

	// カタログ
	cat, db, err := openCatalog(cfg, realClock.Now())
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		checks["postgres"] = func(ctx context.Context) error { return postgres.Ping(ctx, db) }
	}

	// 空席数キャッシュ
	var seatCache application.SeatCache
	if cfg.Redis.Enabled {
		rc := redisinfra.NewClient(&cfg.Redis)
		defer rc.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisinfra.Ping(pingCtx, rc)
		cancel()
		if err != nil {
			logger.Warn("Redisに接続できません。キャッシュなしで起動します", zap.Error(err))
		} else {
			seatCache = redisinfra.NewSeatCache(rc)
			checks["redis"] = func(ctx context.Context) error { return redisinfra.Ping(ctx, rc) }
			logger.Info("Redis接続完了", zap.String("addr", rc.Options().Addr))
		}
	}

	// 通知
	publishers := []domainnotification.Publisher{notification.NewLogPublisher(logger.Named("notification"))}
	if cfg.RabbitMQ.Enabled {
		pub, err := rabbitmq.NewPublisher(&cfg.RabbitMQ)
		if err != nil {
			logger.Warn("RabbitMQに接続できません。ログ出力のみで起動します", zap.Error(err))
		} else {
			defer pub.Close()
			publishers = append(publishers, pub)
			logger.Info("RabbitMQ接続完了", zap.String("queue", cfg.RabbitMQ.Queue))
		}
	}
	dispatcher := notification.NewDispatcher(cfg.Booking.NotificationQueue, m, publishers...)

	// 座席ロックと予約
	locks := application.NewSeatLockManager(
		memory.NewStateStore(cfg.Booking.StateShards),
		realClock,
		application.WithLockMetrics(m),
		application.WithExpiryInvalidator(application.CacheInvalidator{Cache: seatCache}),
	)
	index := application.NewSeatAvailabilityIndex(cat, locks, seatCache)
	coordinator := application.NewBookingCoordinator(
		locks,
		memory.NewBookingRepository(),
		cat,
		realClock,
		application.WithHoldTTL(cfg.Booking.HoldTTL),
		application.WithMaxHoldTTL(cfg.Booking.MaxHoldTTL),
		application.WithPaymentGateway(memory.NewPaymentGateway(realClock)),
		application.WithNotifier(dispatcher),
		application.WithAvailabilityInvalidator(index),
		application.WithCoordinatorMetrics(m),
	)
	sweeper := worker.NewExpiredHoldSweeper(locks, coordinator, cfg.Booking.SweepInterval)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go dispatcher.Start(bgCtx)
	go sweeper.Start(bgCtx)

	// HTTP
	e := newServer(cfg, m, handler.Handlers{
		Booking:      handler.NewBookingHandler(coordinator),
		Availability: handler.NewAvailabilityHandler(index),
		Health:       handler.NewHealthHandler(checks),
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("サーバー起動", zap.String("port", cfg.Server.Port), zap.String("catalog", cfg.Catalog.Source))
		if err := e.Start(fmt.Sprintf(":%s", cfg.Server.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("サーバー起動エラー: %w", err)
	}

	logger.Info("サーバーをシャットダウンしています...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Error("サーバーシャットダウンエラー", zap.Error(err))
	}
	sweeper.Stop()
	bookingTimers := coordinator.Shutdown()
	seatTimers := locks.Shutdown()
	dispatcher.Stop()
	if _, err := realClock.Shutdown(ctx); err != nil {
		logger.Warn("タイマーの停止待ちがタイムアウトしました", zap.Error(err))
	}

	logger.Info("サーバーが正常にシャットダウンしました",
		zap.Int("booking_timers", bookingTimers),
		zap.Int("seat_timers", seatTimers),
	)
	return nil
}

func newServer(cfg *config.Config, m *metrics.Metrics, h handler.Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	middleware.SetupMiddleware(e, m)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.MetricsBasicAuth(cfg.Metrics))
	handler.RegisterRoutes(e, h)
	return e
}

// openCatalog は設定に応じてカタログを用意する。
// postgres の場合はマイグレーションを適用し、空ならデモの上映回を登録する。
func openCatalog(cfg *config.Config, now time.Time) (catalog.Service, *sqlx.DB, error) {
	switch cfg.Catalog.Source {
	case "postgres":
		db, err := postgres.NewConnection(&cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.RunMigrations(db.DB, cfg.Database.MigrationsPath); err != nil {
			db.Close()
			return nil, nil, err
		}
		repo := postgres.NewCatalogRepository(db)
		if err := seedIfEmpty(repo, now); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("PostgreSQLカタログを使用します", zap.String("db", cfg.Database.DBName))
		return repo, db, nil
	case "memory", "":
		mem := memory.NewCatalog()
		if err := memory.SeedDemo(mem, now); err != nil {
			return nil, nil, err
		}
		return mem, nil, nil
	default:
		return nil, nil, fmt.Errorf("未知のカタログ種別です: %s", cfg.Catalog.Source)
	}
}

func seedIfEmpty(repo *postgres.CatalogRepository, now time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := repo.CountShows(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, d := range memory.DemoShows(now) {
		if err := repo.SaveShow(ctx, d.Show, d.Seats); err != nil {
			return err
		}
	}
	logger.Info("デモの上映回を登録しました")
	return nil
}
