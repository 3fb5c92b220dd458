package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"flea_market/internal/checkout"
	"flea_market/internal/config"
	"flea_market/internal/metrics"
	"flea_market/internal/model"
	"flea_market/internal/notify"
	"flea_market/internal/order"
	"flea_market/internal/payment"
	"flea_market/internal/queue"
	"flea_market/internal/router"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// 1. 连接数据库，自动建表
	db, err := openDB(cfg)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// 2. Redis：会话、商品锁、对账标记、限流、事件流
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	gateway := newGateway(cfg)
	outbox := queue.NewOutbox(rdb, cfg.EventStream)
	emitter := notify.NewEmitter(outbox)
	reconciler := checkout.NewReconciler(rdb, gateway)

	svc := checkout.NewService(checkout.Deps{
		DB:         db,
		Redis:      rdb,
		Store:      checkout.NewRedisStore(rdb, cfg.CheckoutSessionTTL),
		Gateway:    gateway,
		Emitter:    emitter,
		Outbox:     outbox,
		Reconciler: reconciler,
		Metrics:    m,
	}, checkout.Options{
		Currency:         cfg.PaymentCurrency,
		Description:      cfg.PaymentDescription,
		ChargeTimeout:    cfg.PaymentTimeout,
		LockTTL:          cfg.ProductLockTTL,
		TimeoutAsDecline: cfg.TimeoutAsDecline,
		SellerShareRate:  cfg.SellerShareRate,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 后台：Stream -> Kafka 转发，Kafka -> 对账消费
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()
	relay := queue.NewRelay(rdb, producer, cfg.EventStream, cfg.EventGroup, cfg.EventConsumer)
	go relay.Run(ctx)

	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, reconciler)
	defer consumer.Close()
	go consumer.Run(ctx)

	r := gin.Default()
	router.Setup(r, router.Deps{
		DB:       db,
		Redis:    rdb,
		Checkout: svc,
		Orders:   order.NewService(db, emitter),
		Metrics:  m,
	}, cfg)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Printf("http listening on %s (db=%s gateway=%s)", cfg.HTTPAddr, cfg.DBDriver, cfg.PaymentGateway)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

func openDB(cfg config.AppConfig) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{})
	default:
		return gorm.Open(sqlite.Open(cfg.DBDSN), &gorm.Config{})
	}
}

func newGateway(cfg config.AppConfig) payment.Gateway {
	if cfg.PaymentGateway == "http" {
		return payment.NewClient(cfg.PaymentAPIURL, cfg.PaymentAPIKey, cfg.PaymentTimeout)
	}
	log.Printf("payment gateway: stub (tokens %s / %s simulate decline / timeout)", payment.StubTokenDeclined, payment.StubTokenTimeout)
	return payment.Stub{}
}
