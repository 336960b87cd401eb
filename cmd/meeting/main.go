// Package main runs a mesh meeting client: it creates or joins a meeting,
// keeps peer connections alive and serves diagnostics until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/meshmeet/config"
	"github.com/aura-webinar/meshmeet/internal/auth"
	"github.com/aura-webinar/meshmeet/internal/clock"
	"github.com/aura-webinar/meshmeet/internal/diagnostics"
	"github.com/aura-webinar/meshmeet/internal/events"
	"github.com/aura-webinar/meshmeet/internal/meeting"
	"github.com/aura-webinar/meshmeet/internal/middleware"
	"github.com/aura-webinar/meshmeet/internal/models"
	"github.com/aura-webinar/meshmeet/internal/peer"
	"github.com/aura-webinar/meshmeet/internal/rtc"
	"github.com/aura-webinar/meshmeet/internal/signaling"
	"github.com/aura-webinar/meshmeet/internal/store"
	"github.com/aura-webinar/meshmeet/pkg/database"
	"github.com/aura-webinar/meshmeet/pkg/redis"
	"github.com/aura-webinar/meshmeet/pkg/response"
	"github.com/aura-webinar/meshmeet/pkg/storage"
)

type options struct {
	create          string
	join            string
	name            string
	token           string
	signalingURL    string
	diagnosticsAddr string
	camera          bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("meeting", pflag.ContinueOnError)
	fs.StringVar(&o.create, "create", "", "create a meeting with this title")
	fs.StringVar(&o.join, "join", "", "join the meeting with this id")
	fs.StringVar(&o.name, "name", "", "display name (overrides MEETING_PARTICIPANT_NAME)")
	fs.StringVar(&o.token, "token", "", "identity token (overrides MEETING_TOKEN)")
	fs.StringVar(&o.signalingURL, "signaling-url", "", "relay WebSocket URL (overrides SIGNALING_URL)")
	fs.StringVar(&o.diagnosticsAddr, "diagnostics-addr", "", "diagnostics listen address (overrides DIAGNOSTICS_ADDR)")
	fs.BoolVar(&o.camera, "camera", false, "start camera and microphone after joining")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if (o.create == "") == (o.join == "") {
		return o, errors.New("exactly one of --create or --join is required")
	}
	return o, nil
}

func (o options) apply(cfg *config.Config) {
	if o.name != "" {
		cfg.Identity.Name = o.name
	}
	if o.token != "" {
		cfg.Identity.Token = o.token
	}
	if o.signalingURL != "" {
		cfg.Signaling.RelayURL = o.signalingURL
	}
	if o.diagnosticsAddr != "" {
		cfg.Diagnostics.Addr = o.diagnosticsAddr
	}
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	opts.apply(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Fatal("meeting", zap.Error(err))
	}
	logger.Info("meeting client stopped")
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *zap.Logger) error {
	clk := clock.Real()
	collector := diagnostics.NewCollector(cfg.Diagnostics.Capacity, clk, logger.Named("diagnostics"))

	identity, err := newIdentity(cfg)
	if err != nil {
		return err
	}

	meetings, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	bus, closeBus, err := newBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	transport, err := connectSignaling(ctx, cfg, bus, clk, collector, logger.Named("signaling"))
	if err != nil {
		return err
	}
	defer transport.Close()

	engine := rtc.NewEngine(rtc.EngineConfig{
		ICEServers: rtc.ParseICEServers(cfg.WebRTC.ICEUrls, cfg.WebRTC.TURNUsername, cfg.WebRTC.TURNCredential),
	}, logger.Named("rtc"))

	eventBus := events.NewBus(logger)
	eventBus.Subscribe(logEvent(logger.Named("events")))

	peers := peer.NewManager(engine, transport, eventBus, peer.Config{
		DisconnectCheckDelay: cfg.Recovery.DisconnectCheckDelay,
		ReconnectDelay:       cfg.Recovery.ReconnectDelay,
		MaxRecoveryAttempts:  cfg.Recovery.MaxAttempts,
		RelayOnlyAfter:       cfg.Recovery.RelayOnlyAfter,
		Clock:                clk,
		Recorder:             collector,
	}, logger.Named("peer"))

	session, err := meeting.New(meeting.Deps{
		Identity:  identity,
		Transport: transport,
		Peers:     peers,
		Devices:   rtc.NewDevices(logger.Named("devices")),
		Events:    eventBus,
		Recorder:  collector,
		Store:     meetings,
		Clock:     clk,
		Logger:    logger.Named("meeting"),
	})
	if err != nil {
		return err
	}
	defer session.Close()

	collector.SetSources(diagnostics.Sources{
		Transport: func() diagnostics.TransportStatus {
			return diagnostics.TransportStatus{Connected: transport.IsConnected(), Kind: string(transport.Kind())}
		},
		Capabilities: peers.Capabilities,
		Connections:  peers.Snapshot,
		Session:      session.Summary,
	})

	if cfg.Diagnostics.Addr != "" {
		srv := newDiagnosticsServer(ctx, cfg, collector, logger)
		go func() {
			logger.Info("diagnostics listening", zap.String("addr", cfg.Diagnostics.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("diagnostics server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("diagnostics shutdown", zap.Error(err))
			}
		}()
	}

	var m *models.Meeting
	if opts.create != "" {
		m, err = session.CreateMeeting(opts.create)
	} else {
		m, err = session.JoinMeeting(opts.join)
	}
	if err != nil {
		return err
	}
	logger.Info("in meeting", zap.String("meeting_id", m.ID), zap.String("title", m.Title))

	if opts.camera {
		if _, err := session.StartCamera(ctx); err != nil {
			logger.Warn("camera not started", zap.Error(err))
		}
	}

	<-ctx.Done()
	logger.Info("leaving meeting", zap.String("meeting_id", m.ID))
	session.LeaveMeeting()
	return nil
}

func newIdentity(cfg *config.Config) (auth.Provider, error) {
	if cfg.Identity.Token != "" {
		p := auth.NewJWTProvider(auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours), cfg.Identity.Token)
		if _, err := p.Current(); err != nil {
			return nil, err
		}
		return p, nil
	}
	id := cfg.Identity.ID
	if id == "" {
		id = uuid.NewString()
	}
	return auth.StaticProvider{Identity: auth.Identity{ID: id, Name: cfg.Identity.Name}}, nil
}

func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.Database.URL == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

func newBus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (signaling.Bus, func(), error) {
	if cfg.Signaling.Broadcast != "redis" {
		b := signaling.NewMemoryBus(cfg.Signaling.Channel, logger)
		return b, func() { b.Close() }, nil
	}
	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return signaling.NewRedisBus(rdb, cfg.Signaling.Channel, logger), func() { closeRedis(rdb, logger) }, nil
}

func closeRedis(rdb *goredis.Client, logger *zap.Logger) {
	if err := rdb.Close(); err != nil {
		logger.Warn("redis close", zap.Error(err))
	}
}

func connectSignaling(ctx context.Context, cfg *config.Config, bus signaling.Bus, clk clock.Clock, rec diagnostics.Recorder, logger *zap.Logger) (*signaling.FallbackTransport, error) {
	var primary signaling.PrimaryDialer
	if cfg.Signaling.RelayURL != "" {
		primary = func(ctx context.Context) (*signaling.RelayTransport, error) {
			return signaling.DialRelay(ctx, signaling.RelayConfig{
				URL:            cfg.Signaling.RelayURL,
				Token:          cfg.Identity.Token,
				ConnectTimeout: cfg.Signaling.ConnectTimeout,
				BackoffBase:    cfg.Signaling.BackoffBase,
				BackoffMax:     cfg.Signaling.BackoffMax,
				MaxAttempts:    cfg.Signaling.MaxAttempts,
			}, logger, rec)
		}
	}
	fallback := func(ctx context.Context) (signaling.Transport, error) {
		return signaling.NewBroadcast(ctx, bus, signaling.BroadcastOptions{
			SettleDelay: cfg.Signaling.SettleDelay,
			Clock:       clk,
			Logger:      logger,
			Recorder:    rec,
		})
	}
	return signaling.Connect(ctx, primary, fallback, logger, rec)
}

func newDiagnosticsServer(ctx context.Context, cfg *config.Config, collector *diagnostics.Collector, logger *zap.Logger) *http.Server {
	var exporter diagnostics.Exporter
	if cfg.Diagnostics.ExportBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Bucket:          cfg.Diagnostics.ExportBucket,
			Prefix:          cfg.Diagnostics.ExportPrefix,
		}, logger)
		if err != nil {
			logger.Warn("diagnostics export disabled", zap.Error(err))
		} else {
			exporter = s3Client
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger.Named("http")))
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	diagnostics.NewHandler(collector, exporter, logger).Register(router)
	router.NoRoute(func(c *gin.Context) { response.NotFound(c, "not found") })

	return &http.Server{
		Addr:         cfg.Diagnostics.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func logEvent(logger *zap.Logger) events.Listener {
	return func(e models.Event) {
		fields := []zap.Field{
			zap.String("type", string(e.Type)),
			zap.String("meeting_id", e.MeetingID),
			zap.String("participant_id", e.ParticipantID),
		}
		switch d := e.Data.(type) {
		case models.ChatMessage:
			fields = append(fields, zap.String("sender", d.SenderName), zap.String("message", d.Message))
		case string:
			fields = append(fields, zap.String("state", d))
		}
		logger.Info("meeting event", fields...)
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
