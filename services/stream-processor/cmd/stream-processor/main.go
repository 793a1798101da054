package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/feedstream/libs/config"
	"github.com/md-rashed-zaman/feedstream/libs/contracts"
	"github.com/md-rashed-zaman/feedstream/libs/httpx"
	"github.com/md-rashed-zaman/feedstream/libs/kafkax"
	"github.com/md-rashed-zaman/feedstream/libs/metrics"
	otelx "github.com/md-rashed-zaman/feedstream/libs/otel"
	"github.com/md-rashed-zaman/feedstream/libs/redisx"
	"github.com/md-rashed-zaman/feedstream/libs/runtime"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/aggregate"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/ingest"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/marker"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/processor"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/publisher"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/source"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	service := config.String("SERVICE_NAME", "stream-processor")
	port, err := config.Port("PORT", "8090")
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
	publishTimeout := mustDuration("PUBLISH_TIMEOUT", 5*time.Second)
	batchSize := mustInt("BATCH_SIZE", 100)
	batchWindow := mustDuration("BATCH_WINDOW", 500*time.Millisecond)
	batchTimeout := mustDuration("BATCH_TIMEOUT", 30*time.Second)
	maxAttempts := mustInt("BATCH_MAX_ATTEMPTS", 3)
	dlqTopic := config.String("DLQ_TOPIC", contracts.TopicStreamDLQ)

	sink := metrics.NewOTelSink("feedstream/" + service)
	filter := marker.New(config.String("MARKER_KEY_PREFIX", marker.DefaultKeyPrefix))

	eventsWriter := kafkax.NewWriter(brokers, "", publishTimeout)
	defer eventsWriter.Close()
	dlqWriter := kafkax.NewWriter(brokers, "", publishTimeout)
	defer dlqWriter.Close()

	pub := publisher.New(eventsWriter, sink, publisher.Config{
		Topic:   config.String("EVENTS_TOPIC", contracts.TopicDomainEvents),
		Timeout: publishTimeout,
	})

	streamTopics := map[string]string{
		aggregate.Post:        config.String("POSTS_STREAM_TOPIC", "feed.posts.changes.v1"),
		aggregate.Comment:     config.String("COMMENTS_STREAM_TOPIC", "feed.comments.changes.v1"),
		aggregate.CommentLike: config.String("COMMENT_LIKES_STREAM_TOPIC", "feed.comment_likes.changes.v1"),
	}
	groupID := config.String("KAFKA_GROUP_ID", service)

	g, ctx := errgroup.WithContext(ctx)
	var procs []ingest.BatchProcessor
	for _, name := range aggregate.Names() {
		st, err := aggregate.ByName(name)
		if err != nil {
			panic(err)
		}
		proc := processor.New(st, filter, pub, logger, processor.WithMetrics(sink))
		procs = append(procs, proc)

		topic := streamTopics[name]
		if topic == "" {
			logger.Warn("change feed consumer disabled", "aggregate", name)
			continue
		}
		runner := source.NewRunner(proc, dlqWriter, logger, sink, source.Config{
			Brokers:      brokers,
			GroupID:      groupID + "." + name,
			Topic:        topic,
			BatchSize:    batchSize,
			BatchWindow:  batchWindow,
			BatchTimeout: batchTimeout,
			MaxAttempts:  uint(maxAttempts),
			DLQTopic:     dlqTopic,
		})
		g.Go(func() error { return runner.Run(ctx) })
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	ingest.New(logger, ingest.ProcessTimeout(batchTimeout), procs...).Register(mux)

	limiter := httpx.NewTokenBucketLimiter(mustInt("RATE_LIMIT_PER_MINUTE", 600), mustInt("RATE_LIMIT_BURST", 100))
	rateLimit := limiter.Middleware()
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb, err := redisx.Open(ctx, redisx.Options{Addr: addr, Password: config.String("REDIS_PASSWORD", "")})
		if err != nil {
			logger.Error("redis connection failed, using in-process rate limiter", "err", err)
		} else {
			defer rdb.Close()
			rateLimit = httpx.NewRedisRateLimiter(rdb, mustInt("RATE_LIMIT_PER_MINUTE", 600), time.Minute, "ratelimit:"+service).
				Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		}
	}
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				limiter.Sweep(10 * time.Minute)
			}
		}
	})

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		rateLimit,
		httpx.WithBodyLimit(int64(mustInt("HTTP_BODY_LIMIT_BYTES", 6<<20))),
		httpx.WithTimeout(batchTimeout),
	)
	handler = otelhttp.NewHandler(handler, "stream-processor")
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
	if err := g.Wait(); err != nil {
		logger.Error("change feed consumer stopped", "err", err)
	}
	logger.Info("http server stopped")
}

func mustInt(key string, fallback int) int {
	v, err := config.Int(key, fallback)
	if err != nil {
		panic(err)
	}
	return v
}

func mustDuration(key string, fallback time.Duration) time.Duration {
	v, err := config.Duration(key, fallback)
	if err != nil {
		panic(err)
	}
	return v
}
