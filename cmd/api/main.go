package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/api"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/config"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/consent"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/family"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/interbank"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/ledger"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/notify"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgres(cfg.DBSource)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer st.Close()

	engine := ledger.NewEngine(st, logger)
	authority := consent.NewAuthority(st, logger)
	gateway := interbank.NewGateway(st, authority, logger)
	guard := family.NewLimitGuard(st, logger, cfg.NotifyFreshness)
	workflow := family.NewWorkflow(st, engine, guard, logger)

	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			logger.Fatal("unable to connect to broker", zap.Error(err))
		}
		defer pub.Close()
		go notify.NewRelay(st, pub, logger).Run(ctx)
	} else {
		logger.Warn("AMQP_URL not set, notification relay disabled")
	}

	handler := api.NewHandler(st, engine, authority, gateway, guard, workflow, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
