// relay: signaling relay between tracking devices and browser viewers
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
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-pantera/internal/config"
	"github.com/teslashibe/go-pantera/internal/log"
	"github.com/teslashibe/go-pantera/pkg/relay"
)

var (
	version   = "1.0.0"
	port      = flag.Int("port", config.DefaultWebRTCPort, "HTTP server port")
	debug     = flag.Bool("debug", false, "Enable debug logging")
	logFormat = flag.String("log-format", "text", "Log format: text or json")
)

func main() {
	flag.Parse()
	config.Load(".env")

	// Override from environment
	*port = config.GetEnvInt("PORT", *port)

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level, *logFormat)
	logger := log.Component("relay")

	app := fiber.New(fiber.Config{
		AppName:               "pantera-relay",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if *debug {
		app.Use(fiberlogger.New())
	}

	r := relay.New(nil)
	r.RegisterRoutes(app)
	r.RegisterAPIRoutes(app.Group("/api"))

	reg := prometheus.NewRegistry()
	if err := r.RegisterMetrics(reg); err != nil {
		logger.Error("metrics registration failed", "error", err)
		os.Exit(1)
	}
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":       "ok",
			"version":      version,
			"broadcasters": r.BroadcasterCount(),
			"viewers":      r.ViewerCount(),
		})
	})

	go func() {
		addr := fmt.Sprintf(":%d", *port)
		logger.Info("starting server",
			"addr", addr,
			"broadcaster", fmt.Sprintf("ws://localhost:%d/ws/broadcaster/{deviceId}", *port),
			"viewer", fmt.Sprintf("ws://localhost:%d/ws/viewer/{deviceId}", *port),
		)
		if err := app.Listen(addr); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
}
