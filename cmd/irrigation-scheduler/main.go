// Command irrigation-scheduler evaluates the household watering schedule once
// a minute, serves the device status endpoint and the owner's schedule API,
// and publishes watering transitions to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sweeney/irrigation-scheduler/internal/applog"
	"github.com/sweeney/irrigation-scheduler/internal/auth"
	"github.com/sweeney/irrigation-scheduler/internal/calendar"
	"github.com/sweeney/irrigation-scheduler/internal/config"
	"github.com/sweeney/irrigation-scheduler/internal/gpio"
	"github.com/sweeney/irrigation-scheduler/internal/logic"
	"github.com/sweeney/irrigation-scheduler/internal/metrics"
	"github.com/sweeney/irrigation-scheduler/internal/mqtt"
	"github.com/sweeney/irrigation-scheduler/internal/poller"
	"github.com/sweeney/irrigation-scheduler/internal/status"
	"github.com/sweeney/irrigation-scheduler/internal/store"
	"github.com/sweeney/irrigation-scheduler/internal/web"
)

func main() {
	cfgPath := flag.String("config", "irrigation.yaml", "YAML config file (created with defaults if missing, empty to skip)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	listen := flag.String("listen", "", "HTTP listen address")
	timezone := flag.String("timezone", "", "IANA zone schedules are written in")
	pollCron := flag.String("poll", "", "poll cadence as a cron spec")
	heartbeat := flag.Duration("heartbeat", 0, "MQTT heartbeat interval (0 disables)")
	broker := flag.String("broker", "", "MQTT broker address (empty disables MQTT)")
	dbURL := flag.String("db", "", "database URL (postgres://, sqlite:///, mongodb://, memory://)")
	printSchedule := flag.Bool("print-schedule", false, "Print the enabled entries and the next run, then exit")

	flag.Parse()

	cfg, err := loadConfig(*cfgPath, *envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Only flags given on the command line override file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "timezone":
			cfg.Timezone = *timezone
		case "poll":
			cfg.PollCron = *pollCron
		case "heartbeat":
			cfg.HeartbeatSeconds = int(heartbeat.Seconds())
		case "broker":
			cfg.MQTT.Broker = *broker
		case "db":
			cfg.Store.Driver, cfg.Store.DSN = config.NormalizeDatabaseURL(*dbURL)
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := run(cfg, *printSchedule); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func loadConfig(path, envFile string) (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config, printSchedule bool) error {
	logger, err := applog.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	clock := logic.ZonedClock(loc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if printSchedule {
		return printEntries(ctx, st, clock())
	}

	var revoker auth.Revoker
	if cfg.Redis.Addr != "" {
		rr, err := auth.NewRedisRevoker(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rr.Close()
		revoker = rr
	}
	authSvc := auth.NewService(st, auth.Options{
		InviteCode: cfg.Auth.InviteCode,
		Secret:     cfg.Auth.JWTSecret,
		TTL:        cfg.TokenTTL(),
		Revoker:    revoker,
		Logger:     logger.Named("auth"),
	})

	var valve gpio.Valve = gpio.NoopValve{}
	if cfg.Valve.Enabled {
		rv, err := gpio.NewRealValve(cfg.Valve.Chip, cfg.Valve.Pin, cfg.Valve.ActiveLow)
		if err != nil {
			return fmt.Errorf("init valve: %w", err)
		}
		valve = rv
	}
	defer valve.Close()

	start := clock()
	tracker := status.NewTracker(start, status.Config{
		Timezone:     cfg.Timezone,
		PollSchedule: cfg.PollCron,
		HeartbeatMs:  cfg.Heartbeat().Milliseconds(),
		Broker:       cfg.MQTT.Broker,
		Listen:       cfg.Listen,
		StoreDriver:  cfg.Store.Driver,
	}, clock)

	// MQTT is optional; a broker that stays down at startup only disables events.
	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Logger:   logger,
		})
		if err != nil {
			logger.Error("mqtt disabled", zap.Error(err))
		} else {
			defer rp.Close()
			publisher, mqttStatus = rp, rp
		}
	}

	m := metrics.New()
	reader := store.NewBreaker(st, store.DefaultBreakerSettings, func(from, to gobreaker.State) {
		logger.Warn("store circuit breaker", zap.String("from", from.String()), zap.String("to", to.String()))
	})
	p := poller.New(start, poller.Options{
		Reader:    reader,
		Tracker:   tracker,
		Publisher: publisher,
		Valve:     valve,
		Metrics:   m,
		Logger:    logger.Named("poller"),
	})

	srv := web.New(cfg.Listen, web.Options{
		Tracker:         tracker,
		Store:           st,
		Auth:            authSvc,
		Metrics:         m,
		Logger:          logger.Named("http"),
		Location:        loc,
		Clock:           clock,
		StatusRateLimit: cfg.StatusRateLimit,
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		srv.Shutdown(sctx)
	}()

	ticker, err := poller.NewTicker(cfg.PollCron, loc)
	if err != nil {
		return err
	}
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("started",
		zap.String("listen", cfg.Listen),
		zap.String("timezone", cfg.Timezone),
		zap.String("poll", cfg.PollCron),
		zap.String("store", cfg.Store.Driver),
		zap.String("broker", cfg.MQTT.Broker),
		zap.Duration("heartbeat", cfg.Heartbeat()))

	l := &loop{
		poller:     p,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		heartbeat:  cfg.Heartbeat(),
		now:        clock,
		after:      time.After,
		log:        logger,
	}
	return l.run(ctx, ticker.C, sigCh)
}

func printEntries(ctx context.Context, st store.Store, now time.Time) error {
	entries, err := st.ActiveEntries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %5ds  %-27s  %s\n", e.Time, int(e.Duration/time.Second), e.Weekdays, e.ID)
	}
	if e, at, ok := calendar.NextRun(entries, now); ok {
		fmt.Printf("next: %s (%s)\n", at.Format(time.RFC3339), e.ID)
	} else {
		fmt.Println("next: none")
	}
	return nil
}

// loop is the single goroutine that drives the poller. HTTP handlers only
// read the tracker it updates.
type loop struct {
	poller     *poller.Poller
	publisher  mqtt.Publisher // nil when MQTT is disabled
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	heartbeat  time.Duration
	now        logic.Clock
	after      func(time.Duration) <-chan time.Time
	log        *zap.Logger
}

func (l *loop) run(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal) error {
	l.publishSystem("STARTUP", "")

	var deadline <-chan time.Time
	for {
		select {
		case s := <-sig:
			l.log.Info("shutting down", zap.String("signal", s.String()))
			l.publishSystem("SHUTDOWN", signalName(s))
			return nil

		case <-tick:
			deadline = l.cycle(ctx)

		case <-deadline:
			// The session ends between minute ticks; expire it on time.
			deadline = l.cycle(ctx)
		}
	}
}

// cycle runs one poll and returns a channel that fires at the end of the
// active session, or nil when idle.
func (l *loop) cycle(ctx context.Context) <-chan time.Time {
	t := l.now()
	l.poller.Tick(ctx, t)

	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
	if hb := l.poller.Heartbeat(t, l.heartbeat); hb != nil {
		l.log.Info("heartbeat",
			zap.Duration("uptime", hb.Uptime),
			zap.Int("started", hb.Counts.Started),
			zap.Int("completed", hb.Counts.Completed),
			zap.Int("suppressed", hb.Counts.Suppressed))
		l.publishSystem("HEARTBEAT", "")
	}

	if end, ok := l.poller.Deadline(); ok {
		return l.after(end.Sub(t))
	}
	return nil
}

func (l *loop) publishSystem(event, reason string) {
	if l.publisher == nil {
		return
	}
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
	snap := l.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := l.publisher.PublishSystem(ev); err != nil {
		l.log.Warn("system event publish failed", zap.String("event", event), zap.Error(err))
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
