// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// waasabi-matrix is the conference Matrix bot. It logs in to the event
// backend and the homeserver, then runs three units until SIGINT or
// SIGTERM, or until one fails:
//
//   - the sync driver (bot.Bot), which keeps the room view current and
//     executes admin commands;
//   - the rate-limited dispatcher, which performs every side effect the
//     driver submits;
//   - the control-plane HTTP API.
//
// A failed sync or login is fatal: the process exits with status 1 and
// its supervisor restarts it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/waasabi/waasabi-matrix/api"
	"github.com/waasabi/waasabi-matrix/backend"
	"github.com/waasabi/waasabi-matrix/bot"
	"github.com/waasabi/waasabi-matrix/lib/config"
	"github.com/waasabi/waasabi-matrix/lib/dispatch"
	"github.com/waasabi/waasabi-matrix/lib/process"
	"github.com/waasabi/waasabi-matrix/lib/secret"
	"github.com/waasabi/waasabi-matrix/lib/version"
	"github.com/waasabi/waasabi-matrix/messaging"
)

const binaryName = "waasabi-matrix"

// httpTimeoutMargin is added to the sync poll timeout to get the Matrix
// HTTP client timeout.
const httpTimeoutMargin = 30 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath string
		envFile    string
		verbose    bool
		logFormat  string
	)

	flagSet := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the config file (default: $"+config.EnvConfig+")")
	flagSet.StringVar(&envFile, "env-file", "", "dotenv file with secret overrides (default: .env next to the config)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print(binaryName)
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	switch args := flagSet.Args(); {
	case len(args) > 1:
		return fmt.Errorf("unexpected arguments: %v", args[1:])
	case len(args) == 1 && configPath != "":
		return errors.New("config path given both as --config and as an argument")
	case len(args) == 1:
		configPath = args[0]
	}

	logger, err := newLogger(os.Stderr, logFormat, verbose)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath, envFile)
	} else {
		cfg, err = config.Load(envFile)
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secrets, err := openSecrets(cfg, os.Stdin, os.Stderr)
	if err != nil {
		return err
	}
	defer secrets.Close()

	return serve(ctx, cfg, secrets, logger)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] [config-file]\n\nFlags:\n", binaryName)
	flagSet.PrintDefaults()
}

// newLogger builds the process logger.
func newLogger(out io.Writer, format string, verbose bool) (*slog.Logger, error) {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		options.Level = slog.LevelDebug
	}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(out, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(out, options)), nil
	}
	return nil, fmt.Errorf("unknown --log-format %q (want text or json)", format)
}

// processSecrets holds every credential the bot needs, each in its own
// secret buffer.
type processSecrets struct {
	matrixPassword  *secret.Buffer
	backendPassword *secret.Buffer
	apiSecret       *secret.Buffer
	mqttPassword    *secret.Buffer
}

// openSecrets resolves every secret in cfg. A missing Matrix password
// is prompted for when in is a terminal.
func openSecrets(cfg *config.Config, in *os.File, out io.Writer) (*processSecrets, error) {
	secrets := &processSecrets{}
	var err error
	fail := func(what string, err error) (*processSecrets, error) {
		secrets.Close()
		return nil, fmt.Errorf("%s: %w", what, err)
	}

	if secrets.matrixPassword, err = config.OpenSecret(cfg.Matrix.Password, cfg.Matrix.PasswordFile); err != nil {
		return fail("matrix password", err)
	}
	if secrets.matrixPassword == nil {
		if !term.IsTerminal(int(in.Fd())) {
			return fail("matrix password", fmt.Errorf("not configured; set matrix.password, matrix.password_file or %s", config.EnvMatrixPassword))
		}
		if secrets.matrixPassword, err = secret.Prompt(in, out, "Matrix password for "+cfg.Matrix.User+": "); err != nil {
			return fail("matrix password", err)
		}
	}
	if secrets.backendPassword, err = config.OpenSecret(cfg.Backend.Password, cfg.Backend.PasswordFile); err != nil {
		return fail("backend password", err)
	}
	if secrets.apiSecret, err = config.OpenSecret(cfg.API.Secret, cfg.API.SecretFile); err != nil {
		return fail("api secret", err)
	}
	if secrets.mqttPassword, err = config.OpenSecret(cfg.Backend.MQTT.Password, cfg.Backend.MQTT.PasswordFile); err != nil {
		return fail("mqtt password", err)
	}
	return secrets, nil
}

// Close releases every buffer. Safe on a partially filled value.
func (s *processSecrets) Close() {
	for _, buffer := range []*secret.Buffer{s.matrixPassword, s.backendPassword, s.apiSecret, s.mqttPassword} {
		if buffer != nil {
			buffer.Close()
		}
	}
}

// serve logs in to both services and runs the bot until ctx is
// cancelled or a unit fails.
func serve(ctx context.Context, cfg *config.Config, secrets *processSecrets, logger *slog.Logger) error {
	backendClient, err := backend.NewClient(backend.ClientConfig{
		Host:       cfg.Backend.Host,
		Identifier: cfg.Backend.User,
		Password:   secrets.backendPassword,
		UserAgent:  version.UserAgent(binaryName),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer backendClient.Close()
	if err := backendClient.Login(ctx); err != nil {
		return err
	}
	logger.Info("logged in to backend", "host", cfg.Backend.Host)

	sink := backend.Fanout{backendClient}
	if cfg.Backend.MQTT.Enabled() {
		mqttConfig := backend.MQTTConfig{
			Broker:      cfg.Backend.MQTT.Broker,
			ClientID:    cfg.Backend.MQTT.ClientID,
			Username:    cfg.Backend.MQTT.Username,
			TopicPrefix: cfg.Backend.MQTT.TopicPrefix,
			Logger:      logger,
		}
		if secrets.mqttPassword != nil {
			mqttConfig.Password = secrets.mqttPassword.String()
		}
		mqttSink, err := backend.DialMQTT(ctx, mqttConfig)
		if err != nil {
			return err
		}
		defer mqttSink.Close()
		sink = append(sink, mqttSink)
	}

	matrixClient, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Matrix.Homeserver,
		HTTPClient:    &http.Client{Timeout: cfg.Sync.PollTimeout + httpTimeoutMargin},
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	session, err := matrixClient.Login(ctx, cfg.Matrix.User, secrets.matrixPassword, messaging.LoginOptions{
		DeviceID:   cfg.Matrix.DeviceID,
		DeviceName: cfg.Matrix.DeviceName,
	})
	if err != nil {
		return err
	}
	defer session.Close()
	logger.Info("logged in to homeserver", "user_id", session.UserID(), "device_id", session.DeviceID())

	dispatcher, err := dispatch.New(dispatch.Config{
		RatePerMinute: cfg.Dispatcher.RatePerMinute,
		Burst:         cfg.Dispatcher.Burst,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	roster := bot.NewAdminRoster(cfg.Matrix.Admins)
	driver, err := bot.New(bot.Config{
		Session:          session,
		Submitter:        dispatcher,
		Sink:             sink,
		Roster:           roster,
		PollTimeout:      cfg.Sync.PollTimeout,
		InviteAttempts:   cfg.Sync.InviteAttempts,
		ReceivedBy:       cfg.Backend.ReceivedBy,
		IntegrationsKind: cfg.Backend.IntegrationsEndpoint,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	apiServer, err := api.New(api.Config{
		Listen:  cfg.API.Listen,
		Session: session,
		Roster:  roster,
		Secret:  secrets.apiSecret,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := dispatcher.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return driver.Run(groupCtx)
	})
	group.Go(func() error {
		return apiServer.Run(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("shut down")
	return nil
}
