package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hingelabs/hinge/server/internal/config"
	"github.com/hingelabs/hinge/server/internal/db"
	"github.com/hingelabs/hinge/server/internal/hinge/service"
	"github.com/hingelabs/hinge/server/internal/hinge/store/sqlite"
	"github.com/hingelabs/hinge/server/internal/httpapi"
	"github.com/hingelabs/hinge/server/internal/metrics"
	"github.com/hingelabs/hinge/server/internal/transport"
)

func main() {
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "hinge-server ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		logger.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{}); err != nil {
			logger.Fatalf("seed dev: %v", err)
		}
	}

	writer := db.NewWorker(conn)
	defer writer.Close()

	// Stores
	deviceStore := sqlite.NewDeviceStore(conn, writer)
	enrollmentStore := sqlite.NewEnrollmentStore(conn, writer)
	ticketStore := sqlite.NewTicketStore(conn, writer)
	stateStore := sqlite.NewStateStore(conn, writer)
	eventStore := sqlite.NewSecurityEventStore(conn, writer)
	auditStore := sqlite.NewAuditStore(conn, writer)

	// Transport
	var bus transport.Transport
	if cfg.MQTTBrokerURL != "" {
		mq, err := transport.NewMQTT(transport.MQTTConfig{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
		}, logger)
		if err != nil {
			logger.Fatalf("mqtt: %v", err)
		}
		bus = mq
	} else {
		logger.Printf("no broker configured; using in-process transport (dev only)")
		bus = transport.NewFake()
	}
	defer bus.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	// Services
	audit := service.NewAuditLog(auditStore, logger)
	if ok, badID, err := audit.Verify(ctx); err != nil {
		logger.Fatalf("verify audit chain: %v", err)
	} else if !ok {
		logger.Printf("audit chain corrupt at entry %d; privileged writes are halted", badID)
	}
	presence := service.NewStateService(stateStore, deviceStore, cfg.HeartbeatWindow)
	enrollment := service.NewEnrollmentService(enrollmentStore, cfg.CodeTTL, audit, logger)
	dispatcher := service.NewDispatcher(ticketStore, deviceStore, presence, bus, audit, logger, service.DispatcherConfig{
		AckTimeout:     cfg.AckTimeout,
		PublishTimeout: cfg.PublishTimeout,
		MaxAttempts:    cfg.MaxAttempts,
	})
	defer dispatcher.Stop()

	ingest := service.NewIngest(deviceStore, eventStore, presence, dispatcher, audit,
		&service.LogNotifier{Logger: logger}, logger)
	if err := ingest.BindTransport(bus); err != nil {
		logger.Fatalf("subscribe telemetry: %v", err)
	}

	if n, err := dispatcher.Recover(ctx); err != nil {
		logger.Fatalf("recover in-flight tickets: %v", err)
	} else if n > 0 {
		logger.Printf("recovered %d in-flight tickets", n)
	}

	// Background maintenance
	sweeper := service.NewCodeSweeper(enrollmentStore, cfg.CodeSweepInterval, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	pruner := service.NewTicketPruner(ticketStore, service.PrunerConfig{
		RetentionDays: cfg.TicketRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:     logger,
		Addr:       cfg.HTTPAddr,
		Enrollment: enrollment,
		Dispatcher: dispatcher,
		Presence:   presence,
		Ingest:     ingest,
		Audit:      audit,
		Registry:   registry,
	})

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
