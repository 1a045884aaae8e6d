package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mahir-abrar/nannydesk/libs/config"
	"github.com/mahir-abrar/nannydesk/libs/db"
	"github.com/mahir-abrar/nannydesk/libs/httpx"
	"github.com/mahir-abrar/nannydesk/libs/kafkax"
	otelx "github.com/mahir-abrar/nannydesk/libs/otel"
	"github.com/mahir-abrar/nannydesk/libs/runtime"
	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/consumer"
	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/delivery"
	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/dispatch"
	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/email"
	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/inbox"
	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8082")
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
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool, inboxRepo)

	var emailSender email.Sender
	if strings.EqualFold(config.String("EMAIL_PROVIDER", "smtp"), "noop") {
		emailSender = email.NewNoopSender()
	} else {
		emailSender = email.NewSMTPSender(
			config.String("SMTP_HOST", "mailpit"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", "no-reply@nannydesk.local"),
		)
	}

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	consumerCfg := consumer.Config{
		Brokers: kafkaBrokers,
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics: []string{
			dispatch.TopicOpportunityOffered,
			dispatch.TopicOpportunityClosed,
			dispatch.TopicRequestAssigned,
			dispatch.TopicRequestCancelled,
		},
	}
	processor := delivery.NewProcessor(emailSender, notificationsRepo, logger)
	eventConsumer := consumer.New(logger, inboxRepo, consumerCfg, func(ctx context.Context, msg kafka.Message) error {
		meta := kafkax.ExtractEventMeta(msg)
		return processor.Handle(ctx, meta.EventID, meta.EventType, msg.Value)
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
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
