package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/rov-teleop/agent/pkg/api"
	"github.com/rov-teleop/agent/pkg/config"
	"github.com/rov-teleop/agent/pkg/link"
	"github.com/rov-teleop/agent/pkg/log"
	"github.com/rov-teleop/agent/pkg/mavlink"
	"github.com/rov-teleop/agent/pkg/rc"
	"github.com/rov-teleop/agent/pkg/telemetry"
	"github.com/rov-teleop/agent/pkg/vehicle"
)

func main() {
	configPath := flag.String("config", "config/agent_config.yaml", "path to the agent configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v\n", err)
	}

	logger, err := log.NewLogrusLogger(cfg.Logging.Level, cfg.Logging.Dir)
	if err != nil {
		stdlog.Fatalf("Failed to set up logging: %v\n", err)
	}

	logger.Infof("Starting %s, vehicle link %s", cfg.AgentID, cfg.Link.Endpoint)

	// Connect the vehicle link. No heartbeat within the bound is fatal:
	// the agent is useless without its board.
	var lnk link.Link
	if cfg.Link.Endpoint == "sim" {
		logger.Warnf("Using simulated vehicle link")
		lnk = link.NewSim()
	} else {
		lnk, err = mavlink.Dial(
			cfg.Link.Endpoint,
			time.Duration(cfg.Link.HeartbeatTimeoutMs)*time.Millisecond,
			time.Duration(cfg.Link.ArmTimeoutMs)*time.Millisecond,
			logger,
		)
		if err != nil {
			logger.Fatalf("Error in connecting to navigator board: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.New()
	state := vehicle.NewState(cfg.Link.StartupMode)
	arming := vehicle.NewArming(lnk, state,
		uint16(cfg.Link.NeutralPWM),
		time.Duration(cfg.Link.SettleMs)*time.Millisecond,
		clk, logger)

	// Bring the board to a known rest state before accepting commands,
	// the same sequence the original service ran at startup.
	if err := lnk.Disarm(ctx); err != nil {
		logger.Fatalf("Startup disarm failed: %v", err)
	}
	if err := lnk.SetMode(ctx, cfg.Link.StartupMode); err != nil {
		logger.Fatalf("Startup mode %q rejected: %v", cfg.Link.StartupMode, err)
	}

	refresh := vehicle.NewRefresh(state, lnk,
		time.Duration(cfg.Refresh.PeriodMs)*time.Millisecond,
		uint16(cfg.Link.NeutralPWM),
		clk, logger)
	go refresh.Run(ctx)

	if cfg.Telemetry.Enabled {
		pub, err := telemetry.NewPublisher(cfg.Telemetry.Address, state, lnk,
			time.Duration(cfg.Telemetry.PeriodMs)*time.Millisecond,
			cfg.AgentID, cfg.Link.NeutralPWM, cfg.Link.Thrusters,
			clk, logger)
		if err != nil {
			logger.Errorf("Telemetry publisher disabled: %v", err)
		} else {
			go pub.Run(ctx)
		}
	}

	control := api.NewControl(logger, state, arming, lnk, cfg.Link.NeutralPWM, cfg.Link.Thrusters)

	app := fiber.New(fiber.Config{
		AppName:      "ROV Vehicle Agent",
		ErrorHandler: customErrorHandler,
	})
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "online",
			"service":  cfg.AgentID,
			"endpoint": cfg.Link.Endpoint,
			"is_armed": state.Armed(),
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/control", websocket.New(control.Handler))

	go func() {
		logger.Infof("Control server listening on port %d", cfg.Server.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("Shutting down...")

	// Stop the refresh and telemetry loops, then leave the vehicle safe:
	// neutral frame, disarm.
	cancel()
	state.ClearIntent()
	if err := lnk.SendChannelOverride(rc.Neutral(uint16(cfg.Link.NeutralPWM))); err != nil {
		logger.Warnf("Failed to send final neutral frame: %v", err)
	}
	if res := arming.RequestDisarm(context.Background()); res.Error != "" {
		logger.Errorf("Final disarm failed: %s", res.Error)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := lnk.Close(); err != nil {
		logger.Warnf("Closing vehicle link: %v", err)
	}

	logger.Infof("Agent exited properly")
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
