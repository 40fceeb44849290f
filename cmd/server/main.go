package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/christopherjohns/relay/internal/access"
	"github.com/christopherjohns/relay/internal/config"
	"github.com/christopherjohns/relay/internal/mail"
	"github.com/christopherjohns/relay/internal/otp"
	"github.com/christopherjohns/relay/internal/relay"
	"github.com/christopherjohns/relay/internal/room"
	"github.com/christopherjohns/relay/internal/server"
	"github.com/christopherjohns/relay/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		Log.Fatal("config_load", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// Verification codes live in Redis when an address is configured,
	// otherwise in process memory.
	var codes otp.Store = otp.NewMemStore()
	if cfg.OTPRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.OTPRedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			Log.Fatal("redis_connect", zap.String("addr", cfg.OTPRedisAddr), zap.Error(err))
		}
		defer rdb.Close()
		codes = otp.NewRedisStore(rdb)
		Log.Info("otp_store_redis", zap.String("addr", cfg.OTPRedisAddr))
	}

	verifier := access.NewVerifier(codes)
	if cfg.OTPMasterEnabled {
		verifier.EnableMasterCode(cfg.OTPMasterCode)
		Log.Warn("otp_master_enabled")
	}

	var mailer mail.Sender = mail.LogSender{}
	if cfg.SMTPHost != "" {
		mailer = &mail.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     int(cfg.SMTPPort),
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}
	}

	conns := ws.NewConnManager(
		ws.WithMaxConns(cfg.MaxConns),
		ws.WithIdleTimeout(cfg.IdleTimeout),
	)
	rooms := room.NewManager()

	rl := relay.New(conns, rooms, verifier, mailer)
	go rl.Run(ctx)

	srv := server.New(cfg.ListenAddr, rooms, conns, ws.NewHandler(conns, rl))

	go func() {
		<-ctx.Done()
		Log.Info("shutdown_begin")
		if err := srv.Shutdown(context.Background()); err != nil {
			Log.Error("shutdown", zap.Error(err))
		}
	}()

	if err := srv.Run(); err != nil {
		Log.Fatal("http_serve", zap.Error(err))
	}
	Log.Info("shutdown_complete")
}
