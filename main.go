package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/fetchrig/cmd"
	"github.com/smazurov/fetchrig/internal/api"
	"github.com/smazurov/fetchrig/internal/config"
	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/logging"
	"github.com/smazurov/fetchrig/internal/metrics"
	"github.com/smazurov/fetchrig/internal/rig"
)

// Options for the CLI - flat structure with toml mapping. The rig itself is
// configured from the camera, encoder, merge, controller, cue and session
// tables of the same file.
type Options struct {
	Config string `help:"Path to configuration file" short:"c"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Session settings
	Subject string `help:"Subject recorded in this session" short:"s" toml:"session.subject" env:"SUBJECT"`
	Driver  string `help:"Camera driver (v4l2, synthetic)" toml:"camera.driver" env:"CAMERA_DRIVER"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
}

// app tracks what OnStart built so OnStop can tear it down.
type app struct {
	mu       sync.Mutex
	rig      *rig.Rig
	server   *api.Server
	cancel   context.CancelFunc
	stopOnce sync.Once
	logger   *slog.Logger
}

func (a *app) set(r *rig.Rig, server *api.Server, cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rig, a.server, a.cancel = r, server, cancel
}

// shutdown stops the API first so no command lands on a stopping rig, then
// drains the rig.
func (a *app) shutdown() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		r, server, cancel := a.rig, a.server, a.cancel
		a.mu.Unlock()

		if server != nil {
			if err := server.Stop(); err != nil {
				a.logger.Error("Error stopping HTTP server", "error", err)
			}
		}
		if r != nil {
			r.Stop()
		}
		if cancel != nil {
			cancel()
		}
	})
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if envErr := config.LoadEnv(".env"); envErr != nil {
			slog.Warn("Failed to load .env", "error", envErr)
		}
		if opts.Config == "" {
			opts.Config = config.DefaultPath()
		}
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		rigConfig, rigErr := config.LoadRig(opts.Config)
		if rigErr != nil {
			slog.Warn("Failed to load rig config, using defaults", "error", rigErr)
		}
		if opts.Subject != "" {
			rigConfig.Session.Subject = opts.Subject
		}
		if opts.Driver != "" {
			rigConfig.Camera.Driver = opts.Driver
		}
		rigConfig.Logging.Level = opts.LoggingLevel
		rigConfig.Logging.Format = opts.LoggingFormat
		logging.Initialize(rigConfig.Logging)

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(api.LogEntryToEvent(entry))
		})

		a := &app{logger: logger}

		hooks.OnStart(func() {
			ctx, cancel := context.WithCancel(context.Background())

			r, err := rig.New(rig.Options{Config: rigConfig, Bus: eventBus})
			if err != nil {
				var startupErr *rig.StartupError
				if errors.As(err, &startupErr) {
					logger.Error("Rig failed to start",
						"precondition", startupErr.Precondition,
						"detail", startupErr.Detail)
				} else {
					logger.Error("Rig failed to start", "error", err)
				}
				cancel()
				os.Exit(1)
			}

			server := api.NewServer(&api.Options{
				AuthUsername:      opts.AuthUsername,
				AuthPassword:      opts.AuthPassword,
				Rig:               r,
				EventBus:          eventBus,
				FFmpegBinary:      rigConfig.Encoder.Binary,
				EncoderCodec:      rigConfig.Encoder.Codec,
				PrometheusHandler: metrics.Handler(),
			})
			a.set(r, server, cancel)

			// Logging levels follow the config file while running; everything
			// else needs a restart.
			watcher := config.NewWatcher(opts.Config, config.LoadRig, logger)
			watcher.OnReload(func(reloaded config.Rig) {
				reloaded.Logging.Format = rigConfig.Logging.Format
				logging.SetLevels(reloaded.Logging)
				logger.Info("Logging levels reloaded", "level", reloaded.Logging.Level)
			})
			if watchErr := watcher.Start(ctx); watchErr != nil {
				logger.Warn("Config file will not be watched", "path", opts.Config, "error", watchErr)
			}

			r.Start(ctx)

			go func() {
				select {
				case <-r.Exited():
					logger.Info("Exit requested, shutting down")
					a.shutdown()
				case <-ctx.Done():
				}
			}()

			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				a.shutdown()
				os.Exit(1)
			}
			a.shutdown()
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			a.shutdown()
		})
	})

	cli.Root().Use = "fetchrig"
	cli.Root().Short = "Dual-camera acquisition rig"

	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateCheckCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}
