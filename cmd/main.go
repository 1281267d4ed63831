// Package main provides the entry point for the go-mediola bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/resident-x/go-mediola/internal/api"
	"github.com/resident-x/go-mediola/internal/config"
	"github.com/resident-x/go-mediola/internal/domain"
	"github.com/resident-x/go-mediola/internal/gateway"
	"github.com/resident-x/go-mediola/internal/homeassistant"
	"github.com/resident-x/go-mediola/internal/poller"
	"github.com/resident-x/go-mediola/internal/protocol"
	"github.com/resident-x/go-mediola/internal/pubsub"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	Version = "unknown" // Default version, can be overridden by build flags
)

func main() {
	code := run()
	os.Exit(code)
}

func run() int {
	// Parse command line flags
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		fmt.Printf("go-mediola %s\n", Version)
		return 0
	}

	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize logger with the configured log level
	initLogger(cfg.LogLevel)

	log.Info().Str("version", Version).Msg("Starting go-mediola bridge")
	cfg.Print()

	// Initialize gateway client and validate connectivity
	client := gateway.NewClient(cfg)
	probeCtx, probeCancel := context.WithTimeout(ctx, 15*time.Second)
	deviceCount, err := client.Probe(probeCtx)
	probeCancel()
	if err != nil {
		log.Warn().Err(err).Msg("Gateway probe failed, continuing with polling")
	} else {
		log.Info().Int("devices", deviceCount).Msg("Gateway reachable")
	}

	// Initialize MQTT publisher
	var publisher domain.MessagePublisher
	if cfg.MQTT.Enabled {
		mqttPublisher := pubsub.NewMQTTPublisher(cfg)
		if err := mqttPublisher.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT broker, using noop publisher")
			publisher = pubsub.NewNoopPublisher()
		} else {
			publisher = mqttPublisher
			log.Info().Msg("MQTT publisher connected successfully")
		}
	} else {
		log.Info().Msg("MQTT disabled, using noop publisher")
		publisher = pubsub.NewNoopPublisher()
	}
	defer func() {
		_ = publisher.Close() //nolint:errcheck // best-effort cleanup on shutdown
	}()

	// Initialize Home Assistant auto-discovery
	var announcer domain.DeviceAnnouncer
	if cfg.MQTT.Enabled && cfg.MQTT.HomeAssistantAutoDiscovery.Enabled {
		autoDiscovery, err := homeassistant.New(cfg, publisher)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Home Assistant auto-discovery")
			return 1
		}
		announcer = autoDiscovery
	}

	// Assemble the state-reconciliation core
	codec := protocol.NewCodec()
	registry := domain.NewShutterRegistry(codec, log.Logger)
	coordinator := poller.NewCoordinator(cfg, client, client, registry, codec, publisher, announcer)

	if err := coordinator.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start polling coordinator")
		return 1
	}

	// Start the HTTP API server
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, registry, coordinator)
		if err := apiServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to start API server")
			return 1
		}
	}

	// Handle graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-signalChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	// Create context with timeout for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping API server")
		}
	}

	if err := coordinator.Stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping polling coordinator")
		return 1
	}

	log.Info().Msg("Bridge stopped")
	return 0
}

// initLogger configures the global zerolog logger.
func initLogger(level string) {
	// Set up pretty console logging for development
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	// Parse the log level
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", level)
		logLevel = zerolog.InfoLevel
	}

	// Configure global logger
	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}
