package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-dialer/internal/auth"
	"crm-dialer/internal/coaching"
	"crm-dialer/internal/config"
	"crm-dialer/internal/dialer"
	"crm-dialer/internal/live"
	"crm-dialer/internal/reporting"
	"crm-dialer/internal/telephony"
	"crm-dialer/pkg/logger"
	"crm-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional local .env; deployments set real env.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	store := dialer.NewPostgresStore(db)

	var sids dialer.SidIndex = dialer.NewMemorySidIndex(cfg.Dialer.SidIndexTTL)
	var caps dialer.CallCapper
	if cfg.Redis.Enabled {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		sids = dialer.NewRedisSidIndex(rdb, cfg.Dialer.SidIndexTTL)
		if cfg.Dialer.AgentCallCap > 0 {
			caps = dialer.NewRedisCallCap(rdb, cfg.Dialer.AgentCallCap, 0)
		}
	}

	provider, err := telephony.NewSimulator(telephony.SimulatorConfig{
		DialDelayMin:      cfg.Dialer.DialDelayMin,
		DialDelayMax:      cfg.Dialer.DialDelayMax,
		RingDelayMin:      cfg.Dialer.RingDelayMin,
		RingDelayMax:      cfg.Dialer.RingDelayMax,
		TerminalRetention: cfg.Dialer.TerminalRetention,
		Outcomes:          outcomeMix(cfg.Dialer),
	}, log)
	if err != nil {
		log.Error("telephony provider init failed", "err", err)
		os.Exit(1)
	}
	defer provider.Close()

	hub := live.NewHub(log)

	manager := dialer.NewManager(dialer.ManagerConfig{
		MaxAttempts: cfg.Dialer.MaxAttempts,
		CallerID:    cfg.Dialer.CallerID,
	}, provider, store, sids, caps, log)

	bridge := dialer.NewBridge(manager, store, sids, provider, caps, hub, log)
	provider.SetStatusCallback(bridge.OnProviderStatus)
	go bridge.RunReconciler(rootCtx, 5*time.Second)

	coach := coaching.NewService(coaching.Noop{}, coaching.Noop{})

	reports := reporting.NewService(reporting.NewPostgresRepo(db))

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, authManager, manager, coach, hub, reports)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

func outcomeMix(d config.DialerConfig) telephony.OutcomeMix {
	m := telephony.OutcomeMix{
		Answered:  d.AnsweredRate,
		NoAnswer:  d.NoAnswerRate,
		Busy:      d.BusyRate,
		Voicemail: d.VoicemailRate,
	}
	if m == (telephony.OutcomeMix{}) {
		return telephony.DefaultOutcomeMix()
	}
	return m
}
