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
	"github.com/md-rashed-zaman/feedstream/libs/runtime"
	"github.com/md-rashed-zaman/feedstream/services/notification-service/internal/inbox"
	"github.com/md-rashed-zaman/feedstream/services/notification-service/internal/notify"
	"github.com/md-rashed-zaman/feedstream/services/notification-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	pool, err := db.Open(ctx, dbURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	svc := notify.New(
		storage.NewAudienceRepository(pool),
		storage.NewRepository(pool),
		logger,
		metrics.NewOTelSink("feedstream/"+service),
	)
	groupID := config.String("KAFKA_GROUP_ID", service)
	dlqTopic := config.String("DLQ_TOPIC", contracts.TopicConsumerDLQ)
	dlqWriter := kafkax.NewWriter(brokers, "", 5*time.Second)
	defer dlqWriter.Close()

	ownersConsumer := kafkax.NewConsumer(logger, inbox.NewRepository(pool, "owners"), dlqWriter, kafkax.ConsumerConfig{
		Brokers:    brokers,
		DLQTopic:   dlqTopic,
		GroupID:    groupID + ".owners",
		Topic:      config.String("FANOUT_TOPIC", contracts.TopicFanout),
		EventTypes: notify.OwnershipMessageTypes,
	}, svc.HandleFanout)
	go func() {
		if err := ownersConsumer.Run(ctx); err != nil {
			logger.Error("consumer stopped", "err", err)
			stop()
		}
	}()

	notificationConsumer := kafkax.NewConsumer(logger, inbox.NewRepository(pool, "notifications"), dlqWriter, kafkax.ConsumerConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    config.String("KAFKA_CONSUME_TOPIC", contracts.TopicNotifications),
		DLQTopic: dlqTopic,
	}, svc.HandleNotification)
	go func() {
		if err := notificationConsumer.Run(ctx); err != nil {
			logger.Error("consumer stopped", "err", err)
			stop()
		}
	}()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
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
