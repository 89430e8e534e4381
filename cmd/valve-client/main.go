// Command valve-client runs next to the valve relay. It polls the
// scheduler's /status endpoint and opens the valve while watering is due.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/irrigation-scheduler/internal/applog"
	"github.com/sweeney/irrigation-scheduler/internal/client"
	"github.com/sweeney/irrigation-scheduler/internal/config"
	"github.com/sweeney/irrigation-scheduler/internal/device"
	"github.com/sweeney/irrigation-scheduler/internal/gpio"
)

func main() {
	server := flag.String("server", "http://localhost:5000", "scheduler base URL")
	interval := flag.Duration("interval", 5*time.Second, "status poll interval")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP request timeout")
	chip := flag.String("chip", gpio.DefaultChip, "GPIO chip")
	pin := flag.Int("pin", gpio.PinValve, "BCM pin driving the valve relay")
	activeLow := flag.Bool("active-low", true, "relay energises when the pin is driven low")
	dryRun := flag.Bool("dry-run", false, "log valve commands without touching GPIO")
	level := flag.String("log-level", "info", "debug, info, warn or error")

	flag.Parse()

	if err := run(*server, *interval, *timeout, *chip, *pin, *activeLow, *dryRun, *level); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(server string, interval, timeout time.Duration, chip string, pin int, activeLow, dryRun bool, level string) error {
	logger, err := applog.New(config.LogConfig{Level: level, Env: "production"})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	var valve gpio.Valve = gpio.NoopValve{}
	if !dryRun {
		rv, err := gpio.NewRealValve(chip, pin, activeLow)
		if err != nil {
			return fmt.Errorf("init valve: %w", err)
		}
		valve = rv
	}
	defer valve.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("started",
		zap.String("server", server),
		zap.Duration("interval", interval),
		zap.Bool("dry_run", dryRun))

	f := device.NewFollower(client.New(server, "", timeout), valve, logger)
	f.Run(ctx, interval)
	logger.Info("stopped")
	return nil
}
