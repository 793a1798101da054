package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/feedstream/libs/config"
	"github.com/md-rashed-zaman/feedstream/libs/contracts"
	"github.com/md-rashed-zaman/feedstream/libs/db"
	"github.com/md-rashed-zaman/feedstream/libs/httpx"
	"github.com/md-rashed-zaman/feedstream/libs/kafkax"
	"github.com/md-rashed-zaman/feedstream/libs/metrics"
	otelx "github.com/md-rashed-zaman/feedstream/libs/otel"
	"github.com/md-rashed-zaman/feedstream/libs/redisx"
	"github.com/md-rashed-zaman/feedstream/libs/runtime"
	"github.com/md-rashed-zaman/feedstream/services/feed-service/internal/followers"
	"github.com/md-rashed-zaman/feedstream/services/feed-service/internal/timeline"
	"github.com/md-rashed-zaman/feedstream/services/feed-service/internal/worker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "feed-service")
	port, err := config.Port("PORT", "8092")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	brokers, err := config.RequiredString("KAFKA_BROKERS")
	if err != nil {
		panic(err)
	}
	redisAddr, err := config.RequiredString("REDIS_ADDR")
	if err != nil {
		panic(err)
	}
	maxItems, err := config.Int("FEED_MAX_ITEMS", 800)
	if err != nil {
		panic(err)
	}
	feedTTL, err := config.Duration("FEED_TTL", 30*24*time.Hour)
	if err != nil {
		panic(err)
	}
	dedupTTL, err := config.Duration("DEDUP_TTL", 24*time.Hour)
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	rdb, err := redisx.Open(ctx, redisx.Options{Addr: redisAddr, Password: config.String("REDIS_PASSWORD", "")})
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer rdb.Close()

	w := worker.New(
		followers.NewRepository(pool),
		timeline.NewStore(rdb, int64(maxItems), feedTTL),
		logger,
		metrics.NewOTelSink("feedstream/"+service),
	)
	dlqWriter := kafkax.NewWriter(brokers, "", 5*time.Second)
	defer dlqWriter.Close()

	fanoutConsumer := kafkax.NewConsumer(logger, redisx.NewDedup(rdb, "dedup:"+service+":", dedupTTL), dlqWriter, kafkax.ConsumerConfig{
		Brokers:    brokers,
		DLQTopic:   config.String("DLQ_TOPIC", contracts.TopicConsumerDLQ),
		GroupID:    config.String("KAFKA_GROUP_ID", service),
		Topic:      config.String("FANOUT_TOPIC", contracts.TopicFanout),
		EventTypes: worker.MessageTypes,
	}, w.Handle)
	go func() {
		if err := fanoutConsumer.Run(ctx); err != nil {
			logger.Error("consumer stopped", "err", err)
			stop()
		}
	}()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "feed")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
