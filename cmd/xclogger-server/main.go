package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/X-ChenD-Hai/xclogger-server/internal/api"
	"github.com/X-ChenD-Hai/xclogger-server/internal/codec"
	"github.com/X-ChenD-Hai/xclogger-server/internal/config"
	"github.com/X-ChenD-Hai/xclogger-server/internal/events"
	"github.com/X-ChenD-Hai/xclogger-server/internal/export"
	"github.com/X-ChenD-Hai/xclogger-server/internal/ingest"
	"github.com/X-ChenD-Hai/xclogger-server/internal/logger"
	"github.com/X-ChenD-Hai/xclogger-server/internal/metrics"
	"github.com/X-ChenD-Hai/xclogger-server/internal/scheduler"
	"github.com/X-ChenD-Hai/xclogger-server/internal/shutdown"
	"github.com/X-ChenD-Hai/xclogger-server/internal/storage"
	"github.com/X-ChenD-Hai/xclogger-server/internal/store"
	"github.com/X-ChenD-Hai/xclogger-server/internal/transport"
	"github.com/rs/zerolog/log"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "send":
			os.Exit(runSendSubcommand(os.Args[2:]))
		case "export":
			os.Exit(runExportSubcommand(os.Args[2:]))
		case "version", "--version", "-v":
			fmt.Printf("xclogger-server %s\n", Version)
			return
		}
	}

	fs := flag.NewFlagSet("xclogger-server", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to xclogger.toml (optional)")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	metrics.Init(logger.Get("metrics"))

	log.Info().
		Str("version", Version).
		Str("database", cfg.Store.DatabasePath()).
		Str("endpoint", cfg.Transport.Endpoint).
		Msg("Starting xclogger-server")

	shutdownCoordinator := shutdown.New(cfg.Shutdown.Timeout, log.Logger)

	// Store. A failed connect is not fatal: ingest retries on the first
	// record and the API reports not ready until then.
	st := store.New(logger.Get("store"))
	if err := st.Connect(cfg.Store.DatabasePath()); err != nil {
		log.Warn().Err(err).Str("path", cfg.Store.DatabasePath()).Msg("Store not connected at startup")
	}
	shutdownCoordinator.Register("store", st, shutdown.PriorityStore)

	publisher := buildPublisher(cfg)
	shutdownCoordinator.Register("events", publisher, shutdown.PriorityEvents)

	// Transport and ingest
	transportServer := transport.NewServer(transport.ServerConfig{
		Endpoint: cfg.Transport.Endpoint,
		Codec:    codec.Binary{MaxPayloadSize: int(cfg.Transport.MaxPayloadSize)},
	}, logger.Get("transport"))

	handler := ingest.NewHandler(st, publisher, ingest.HandlerConfig{
		DatabasePath: cfg.Store.DatabasePath(),
	}, logger.Get("ingest"))
	service := ingest.NewService(transportServer, handler, logger.Get("ingest"))
	shutdownCoordinator.RegisterHook("transport", service.Close, shutdown.PriorityTransport)

	if cfg.Transport.AutoStart {
		if err := service.StartServer(); err != nil {
			log.Error().Err(err).Str("endpoint", cfg.Transport.Endpoint).Msg("Failed to start transport server")
		}
	}

	// Retention
	if cfg.Retention.Enabled {
		retention, err := scheduler.NewRetentionScheduler(&scheduler.RetentionSchedulerConfig{
			Pruner:   st,
			Schedule: cfg.Retention.Schedule,
			MaxAge:   cfg.Retention.MaxAge,
			Logger:   logger.Get("retention"),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create retention scheduler")
		}
		if err := retention.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start retention scheduler")
		}
		shutdownCoordinator.Register("retention-scheduler", retention, shutdown.PriorityScheduler)
	} else {
		log.Info().Msg("Retention scheduler disabled")
	}

	// Export
	var exporter *export.Exporter
	backend, err := storage.New(storageConfig(cfg.Export), logger.Get("storage"))
	if err != nil {
		log.Warn().Err(err).Str("backend", cfg.Export.Backend).Msg("Export backend unavailable, export disabled")
	} else {
		exporter = export.New(st, backend, export.Config{
			Prefix:   cfg.Export.Prefix,
			PageSize: cfg.Export.PageSize,
		}, logger.Get("export"))
		shutdownCoordinator.Register("export-storage", backend, shutdown.PriorityStorage)
	}

	// HTTP API
	if cfg.Server.Enabled {
		serverCfg := api.DefaultServerConfig()
		serverCfg.Host = cfg.Server.Host
		serverCfg.Port = cfg.Server.Port
		serverCfg.ReadTimeout = cfg.Server.ReadTimeout
		serverCfg.WriteTimeout = cfg.Server.WriteTimeout
		serverCfg.ShutdownTimeout = cfg.Shutdown.Timeout
		serverCfg.CORSOrigins = cfg.Server.CORSOrigins

		server := api.NewServer(serverCfg, logger.Get("api"))
		server.SetReadinessCheck(st.IsConnected)
		server.RegisterRoutes()

		app := server.GetApp()
		api.NewMessagesHandler(st, logger.Get("api")).RegisterRoutes(app)
		api.NewSettingsHandler(st, logger.Get("api")).RegisterRoutes(app)
		api.NewTransportHandler(service, logger.Get("api")).RegisterRoutes(app)
		if exporter != nil {
			api.NewExportHandler(exporter, logger.Get("api")).RegisterRoutes(app)
		}

		shutdownCoordinator.Register("http-server", server, shutdown.PriorityHTTPServer)

		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}

	sig := shutdownCoordinator.WaitForSignal()
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	if err := shutdownCoordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown completed with errors")
		os.Exit(1)
	}

	log.Info().Msg("xclogger-server stopped")
}

// buildPublisher combines every enabled event sink. Sinks that fail to
// connect are logged and skipped.
func buildPublisher(cfg *config.Config) events.Publisher {
	var sinks events.Multi

	if cfg.Events.Kafka.Enabled {
		p := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:      cfg.Events.Kafka.Brokers,
			Topic:        cfg.Events.Kafka.Topic,
			WriteTimeout: cfg.Events.Kafka.WriteTimeout,
		}, logger.Get("events"))
		sinks = append(sinks, events.Guard(p, events.DefaultBreakerConfig("kafka"), logger.Get("events")))
		log.Info().Strs("brokers", cfg.Events.Kafka.Brokers).Str("topic", cfg.Events.Kafka.Topic).Msg("Kafka event publisher enabled")
	}

	if cfg.Events.MQTT.Enabled {
		p, err := events.NewMQTTPublisher(events.MQTTConfig{
			Broker:         cfg.Events.MQTT.Broker,
			ClientID:       cfg.Events.MQTT.ClientID,
			TopicPrefix:    cfg.Events.MQTT.TopicPrefix,
			QoS:            byte(cfg.Events.MQTT.QoS),
			Username:       cfg.Events.MQTT.Username,
			Password:       cfg.Events.MQTT.Password,
			ConnectTimeout: cfg.Events.MQTT.ConnectTimeout,
		}, logger.Get("events"))
		if err != nil {
			log.Error().Err(err).Str("broker", cfg.Events.MQTT.Broker).Msg("MQTT event publisher unavailable")
		} else {
			sinks = append(sinks, events.Guard(p, events.DefaultBreakerConfig("mqtt"), logger.Get("events")))
			log.Info().Str("broker", cfg.Events.MQTT.Broker).Msg("MQTT event publisher enabled")
		}
	}

	if len(sinks) == 0 {
		return events.Nop{}
	}
	return sinks
}

func storageConfig(c config.ExportConfig) storage.Config {
	return storage.Config{
		Backend:   c.Backend,
		LocalPath: c.LocalPath,
		S3: storage.S3Config{
			Bucket:    c.S3.Bucket,
			Region:    c.S3.Region,
			Endpoint:  c.S3.Endpoint,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
			UseSSL:    c.S3.UseSSL,
			PathStyle: c.S3.PathStyle,
		},
		Azure: storage.AzureBlobConfig{
			ConnectionString:   c.Azure.ConnectionString,
			AccountName:        c.Azure.AccountName,
			AccountKey:         c.Azure.AccountKey,
			UseManagedIdentity: c.Azure.UseManagedIdentity,
			ContainerName:      c.Azure.Container,
			Endpoint:           c.Azure.Endpoint,
		},
	}
}
