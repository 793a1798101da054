package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/feedstream/libs/config"
	"github.com/md-rashed-zaman/feedstream/libs/contracts"
	"github.com/md-rashed-zaman/feedstream/libs/events"
	"github.com/md-rashed-zaman/feedstream/libs/httpx"
	"github.com/md-rashed-zaman/feedstream/libs/kafkax"
	"github.com/md-rashed-zaman/feedstream/libs/metrics"
	otelx "github.com/md-rashed-zaman/feedstream/libs/otel"
	"github.com/md-rashed-zaman/feedstream/libs/redisx"
	"github.com/md-rashed-zaman/feedstream/libs/runtime"
	"github.com/md-rashed-zaman/feedstream/services/fanout-service/internal/router"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "fanout-service")
	port, err := config.Port("PORT", "8091")
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

	brokers, err := config.RequiredString("KAFKA_BROKERS")
	if err != nil {
		panic(err)
	}
	redisAddr, err := config.RequiredString("REDIS_ADDR")
	if err != nil {
		panic(err)
	}
	dedupTTL, err := config.Duration("DEDUP_TTL", 24*time.Hour)
	if err != nil {
		panic(err)
	}

	rdb, err := redisx.Open(ctx, redisx.Options{Addr: redisAddr, Password: config.String("REDIS_PASSWORD", "")})
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer rdb.Close()

	writer := kafkax.NewWriter(brokers, "", 5*time.Second)
	defer writer.Close()

	r := router.New(writer, logger, metrics.NewOTelSink("feedstream/"+service), router.Config{
		FanoutTopic:       config.String("FANOUT_TOPIC", contracts.TopicFanout),
		NotificationTopic: config.String("NOTIFICATION_TOPIC", contracts.TopicNotifications),
	})

	dlqTopic := config.String("DLQ_TOPIC", contracts.TopicConsumerDLQ)
	eventConsumer := kafkax.NewConsumer(logger, redisx.NewDedup(rdb, "dedup:"+service+":", dedupTTL), writer, kafkax.ConsumerConfig{
		Brokers:  brokers,
		DLQTopic: dlqTopic,
		GroupID:  config.String("KAFKA_GROUP_ID", service),
		Topic:    config.String("EVENTS_TOPIC", contracts.TopicDomainEvents),
		EventTypes: []string{
			events.TypePostCreated.String(), events.TypePostUpdated.String(), events.TypePostDeleted.String(),
			events.TypeCommentCreated.String(), events.TypeCommentUpdated.String(), events.TypeCommentDeleted.String(),
			events.TypeCommentLikeCreated.String(), events.TypeCommentLikeDeleted.String(),
		},
	}, r.Handle)
	go func() {
		if err := eventConsumer.Run(ctx); err != nil {
			logger.Error("consumer stopped", "err", err)
			stop()
		}
	}()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "fanout")
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
