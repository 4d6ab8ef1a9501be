// Command plotterd is the composition root: it loads configuration, wires
// the HAL, Machine, Dispatcher, sketch Reader, serial console mirror, and
// WebSocket hub together, then serves the HTTP control surface defined in
// internal/api while the dispatcher runs as a background goroutine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/plotterfw/motioncore/internal/api"
	"github.com/plotterfw/motioncore/internal/config"
	"github.com/plotterfw/motioncore/internal/dispatcher"
	"github.com/plotterfw/motioncore/internal/hal"
	"github.com/plotterfw/motioncore/internal/logger"
	"github.com/plotterfw/motioncore/internal/machine"
	"github.com/plotterfw/motioncore/internal/serialconsole"
	"github.com/plotterfw/motioncore/internal/sketch"
	wshub "github.com/plotterfw/motioncore/internal/websocket"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to plotterd.json (default: search ./configs, ., /etc/plotterd)")
	preset := flag.String("preset", "", "use a built-in bench preset instead of a config file (bench-cartesian, bench-scara, auto)")
	dispatchPeriod := flag.Duration("period", 10*time.Millisecond, "dispatcher tick period")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *preset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plotterd: config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		LogDir:     cfg.Logger.Dir,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 7,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "plotterd: logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()
	defer logger.Sync()

	gpio := initHAL(log)
	defer gpio.Close()
	hal.SetGlobalHAL(gpio)

	mc := cfg.MachineConfig()
	mc.GPIO = gpio.GPIO()

	m, err := machine.New(mc)
	if err != nil {
		log.Fatal("build machine", zap.Error(err))
	}

	mirror, err := serialconsole.Open(cfg.SerialConsole.Port, cfg.SerialConsole.Baud, log)
	if err != nil {
		log.Fatal("open serial console", zap.Error(err))
	}
	defer mirror.Close()
	m.SetDiagnosticSink(mirror.Write)

	reader, err := sketch.NewReader(cfg.SketchRoot, log)
	if err != nil {
		log.Fatal("open sketch root", zap.Error(err))
	}
	defer reader.Close()

	hub := wshub.NewHub()
	go hub.Run()
	logger.SetBroadcaster(func(level, message, source string, fields map[string]interface{}) {
		hub.Broadcast(wshub.MessageTypeLog, map[string]interface{}{
			"level": level, "message": message, "source": source, "fields": fields,
		})
	})

	gpioMonitor := hal.NewGPIOMonitor(200, func(state hal.GPIOMonitorState) {
		hub.Broadcast(wshub.MessageTypeGPIO, map[string]interface{}{
			"pins": state.Pins, "board_name": state.BoardName, "available": state.Available,
		})
	})
	hal.SetGlobalGPIOMonitor(gpioMonitor)
	go gpioMonitor.Start()
	defer gpioMonitor.Stop()

	disp := dispatcher.New(m, log, *dispatchPeriod)
	svc := api.NewService(m, disp, reader, hub, log)

	app := fiber.New(fiber.Config{AppName: "plotterd v" + version})
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/ws", websocket.New(hub.HandleWebSocket))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": version})
	})
	api.SetupRoutes(app, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcherDone := make(chan error, 1)
	go func() {
		dispatcherDone <- disp.Run(ctx)
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("plotterd listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			log.Error("http server stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-dispatcherDone:
		log.Error("dispatcher exited", zap.Error(err))
	}

	cancel()
	_ = app.ShutdownWithTimeout(5 * time.Second)
}

func loadConfig(path, preset string) (*config.Config, error) {
	if preset == "auto" {
		board, err := hal.DetectBoard()
		if err != nil {
			board = &hal.BoardInfo{Model: hal.BoardUnknown}
		}
		return config.LoadPreset(string(config.RecommendPreset(*board)))
	}
	if preset != "" {
		return config.LoadPreset(preset)
	}
	return config.Load(path)
}
