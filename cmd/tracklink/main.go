package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/open-teleop/tracklink/domain/diagnostic"
	"github.com/open-teleop/tracklink/domain/fusion"
	"github.com/open-teleop/tracklink/domain/tracking"
	"github.com/open-teleop/tracklink/pkg/api"
	"github.com/open-teleop/tracklink/pkg/clock"
	"github.com/open-teleop/tracklink/pkg/config"
	customlog "github.com/open-teleop/tracklink/pkg/log"
	"github.com/open-teleop/tracklink/pkg/source"
	"github.com/open-teleop/tracklink/pkg/transmit"
	"github.com/open-teleop/tracklink/pkg/zeromq"
	"github.com/open-teleop/tracklink/services"
)

var (
	configDir = flag.String("config-dir", "config", "Directory containing "+config.BootstrapFileName)
	profile   = flag.String("profile", "", "Built-in profile to use instead of data.profile")
	list      = flag.Bool("list-profiles", false, "Print the built-in profiles and exit")
)

func main() {
	flag.Parse()

	if *list {
		for _, name := range config.PresetNames() {
			fmt.Println(name)
		}
		return
	}

	if err := run(); err != nil {
		log.Fatalf("tracklink: %v", err)
	}
}

func run() error {
	bootstrap, err := config.LoadBootstrapConfig(*configDir)
	if err != nil {
		return err
	}

	logger, err := customlog.NewLogrusLogger(bootstrap.Logging.Level, bootstrap.Logging.LogPath, customlog.FileOptions{
		MaxSizeMB:  bootstrap.Logging.MaxSizeMB,
		MaxBackups: bootstrap.Logging.MaxBackups,
		MaxAgeDays: bootstrap.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	presetName := bootstrap.Data.Profile
	if *profile != "" {
		presetName = *profile
	}
	var fallback *config.Config
	if presetName != "" {
		var ok bool
		if fallback, ok = config.Preset(presetName); !ok {
			return fmt.Errorf("unknown profile %q", presetName)
		}
	}

	configs, err := services.NewTrackingConfigService(bootstrap.TrackingConfigPath(), fallback, logger)
	if err != nil {
		return err
	}
	cfg := configs.GetConfig()

	trackingProfile, err := cfg.Profile()
	if err != nil {
		return err
	}
	tracker, err := tracking.NewTracker(trackingProfile)
	if err != nil {
		return err
	}
	roleNames := make([]string, len(trackingProfile.Roles))
	for i, r := range trackingProfile.Roles {
		roleNames[i] = r.Name
	}

	detections := source.NewDetectionQueue(source.DefaultDetectionDepth)
	orientation := source.NewOrientationQueue(source.DefaultOrientationDepth)

	diag := diagnostic.NewDiagnosticService(cfg.DeviceID, cfg.ConfigID, staleAfter(cfg))
	diag.AddQueue("detections", detections)
	diag.AddQueue("orientation", orientation)

	clk := clock.Real{}
	sender := transmit.NewSender(
		transmit.NewMulticastDialer(transmit.MulticastOptions{
			TTL:       cfg.Telemetry.TTL,
			Interface: cfg.Telemetry.Interface,
			Loopback:  cfg.Telemetry.Loopback,
		}),
		cfg.Destination(),
		transmit.SenderOptions{Backoff: cfg.Backoff(), LogInterval: cfg.LogInterval()},
		clk,
		logger,
	)
	defer sender.Close()

	loop, err := fusion.NewLoop(tracker, detections, orientation, sender, clk, fusion.Options{
		DetectionPeriod:         cfg.DetectionPeriod(),
		TelemetryPeriod:         cfg.TelemetryPeriod(),
		Yield:                   cfg.Yield(),
		Layout:                  cfg.WireLayout(),
		RequireFreshOrientation: cfg.Telemetry.RequireFreshOrientation,
	}, logger)
	if err != nil {
		return err
	}
	loop.AddObserver(diag)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	zmqCfg := bootstrap.ZeroMQ
	if zmqCfg.DetectionAddress != "" || zmqCfg.OrientationAddress != "" ||
		zmqCfg.PublishBindAddress != "" || zmqCfg.RequestBindAddress != "" {
		zmqService, err := zeromq.NewZeroMQService(zmqCfg, logger)
		if err != nil {
			return err
		}
		if zmqCfg.DetectionAddress != "" {
			if err := zmqService.Subscribe(zmqCfg.DetectionAddress, zeromq.QueueSink{Detections: detections}); err != nil {
				return err
			}
		}
		if zmqCfg.OrientationAddress != "" {
			if err := zmqService.Subscribe(zmqCfg.OrientationAddress, zeromq.QueueSink{Orientation: orientation}); err != nil {
				return err
			}
		}

		snapshots := zeromq.NewSnapshotPublisher(zmqService, cfg.ConfigID, roleNames, logger)
		loop.AddObserver(snapshots)
		zmqService.RegisterHandler(zeromq.MsgTypeSnapshotRequest, zeromq.NewSnapshotHandler(snapshots, logger))
		configs.SetPublisher(zeromq.RegisterConfigHandlers(zmqService, configs, logger))

		if err := zmqService.Start(); err != nil {
			return err
		}
		defer zmqService.Stop()

		if zmqCfg.PublishBindAddress != "" {
			wg.Add(1)
			go func() {
				defer wg.Done()
				snapshots.Run(ctx, zmqCfg.SnapshotHz)
			}()
		}
	}

	if bootstrap.Server.HTTPPort > 0 {
		app := fiber.New(fiber.Config{
			AppName:               "tracklink",
			ErrorHandler:          api.ErrorHandler,
			DisableStartupMessage: true,
		})
		app.Use(fiberlogger.New())
		app.Use(recover.New())
		api.Routes{
			Diagnostics: diag,
			Configs:     configs,
			Sentinel:    trackingProfile.Sentinel,
			Logger:      logger,
		}.Register(app)

		go func() {
			addr := fmt.Sprintf(":%d", bootstrap.Server.HTTPPort)
			logger.Infof("HTTP server starting on %s", addr)
			if err := app.Listen(addr); err != nil {
				logger.Errorf("HTTP server stopped: %v", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				logger.Warnf("HTTP server forced to shutdown: %v", err)
			}
		}()
	}

	logger.Infof("tracklink %s (profile %s) sending %s to %s",
		diag.InstanceID(), cfg.ConfigID, cfg.WireLayout(), cfg.Destination())

	// The fusion loop runs on this goroutine until a signal arrives.
	if err := loop.Run(ctx); err != nil {
		return err
	}

	wg.Wait()
	logger.Infof("Shutting down")
	return nil
}

// staleAfter reports telemetry as stale after ten missed ticks, and never
// sooner than one second.
func staleAfter(cfg *config.Config) time.Duration {
	d := 10 * cfg.TelemetryPeriod()
	if d < time.Second {
		d = time.Second
	}
	return d
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
}
