package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/deployd/internal/cfg"
	"github.com/simplesurance/deployd/internal/deploy"
	"github.com/simplesurance/deployd/internal/gitrepo"
	"github.com/simplesurance/deployd/internal/healthcheck"
	"github.com/simplesurance/deployd/internal/install"
	"github.com/simplesurance/deployd/internal/logfields"
	"github.com/simplesurance/deployd/internal/provider/webhook"
	"github.com/simplesurance/deployd/internal/retryer"
	"github.com/simplesurance/deployd/internal/routines"
)

const appName = "deployd"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

// shutdown hook priorities, hooks with lower values run first
const (
	shutdownPrioHTTPServers = 10
	shutdownPrioTriggers    = 20
	shutdownPrioLockManager = 30
	shutdownPrioLogSync     = 100
)

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught, terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

// startServer starts a http server in a go-routine. If certFile is not
// empty, it serves https.
func startServer(name, listenAddr, certFile, keyFile string, handler http.Handler) {
	srv := http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating "+name+" server",
			logfields.Event(name+"_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn(
				"shutting down "+name+" server failed",
				logfields.Event(name+"_server_termination_failed"),
				zap.Error(err),
			)
		}
	}, shutdownPrioHTTPServers)

	go func() {
		defer panicHandler()

		logger.Info(
			name+" server started",
			logfields.Event(name+"_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		var err error
		if certFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}

		if errors.Is(err, http.ErrServerClosed) {
			logger.Info(name+" server terminated", logfields.Event(name+"_server_terminated"))
			return
		}

		logger.Fatal(
			name+" server terminated unexpectedly",
			logfields.Event(name+"_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	ShowVersion *bool
}

var args arguments

const defConfigFile = "/etc/deployd/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the deployd configuration file",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nReceive push webhook events and deploy the tracked git repositories.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// the logger is not initialized yet, errors are reported via exitOnErr

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration file", err)
	defer file.Close()

	config, err := cfg.Load(file)
	exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)

	err = config.LoadEnvFile()
	exitOnErr(fmt.Sprintf("could not load env file: %s", config.EnvFile), err)

	return config
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	encCfg := zap.NewProductionEncoderConfig()

	encCfg.LevelKey = "loglevel"
	encCfg.TimeKey = config.LogTimeKey
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	return encCfg
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else if err := (&logLevel).Set(config.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "can not set log level to %q: %s\n", config.LogLevel, err)
		os.Exit(2)
	}

	switch config.LogFormat {
	case "logfmt":
		logger = zap.New(zapcore.NewCore(
			zaplogfmt.NewEncoder(zapEncoderConfig(config)),
			os.Stdout,
			logLevel,
		))

	case "console", "json":
		zcfg := zap.NewProductionConfig()
		zcfg.Sampling = nil
		zcfg.EncoderConfig = zapEncoderConfig(config)
		zcfg.OutputPaths = []string{"stdout"}
		zcfg.Encoding = config.LogFormat
		zcfg.Level = zap.NewAtomicLevelAt(logLevel)

		var err error
		logger, err = zcfg.Build()
		exitOnErr("could not initialize logger", err)

	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	}, shutdownPrioLogSync)
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func mustRestoreState(store *deploy.Store, stateFile *deploy.StateFile) {
	states, lastRun, err := stateFile.Load()
	if err != nil {
		logger.Fatal("loading state file failed", zap.Error(err))
	}

	ignored := store.Restore(states)
	if len(ignored) > 0 {
		logger.Info(
			"dropped states of repositories that are not tracked anymore",
			zap.Strings("repositories", ignored),
		)
	}

	if lastRun != nil {
		store.SetLastRun(*lastRun)
	}

	logger.Info(
		"restored repository states",
		logfields.Event("state_restored"),
		zap.Int("count", len(states)-len(ignored)),
	)
}

func startPeriodicTrigger(dispatcher *deploy.Dispatcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		ticker.Stop()
		close(done)
	}, shutdownPrioTriggers)

	go func() {
		defer panicHandler()

		for {
			select {
			case <-ticker.C:
				logger.Debug("periodic trigger fired", logfields.Event("periodic_trigger"))
				dispatcher.TriggerAll()

			case <-done:
				return
			}
		}
	}()

	logger.Info(
		"periodic trigger started",
		logfields.Event("periodic_trigger_started"),
		zap.Duration("interval", interval),
	)
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	repos, err := config.TrackedRepositories()
	exitOnErr("could not determine tracked repositories", err)

	if len(repos) == 0 {
		fmt.Fprintf(os.Stderr, "ERROR: no repositories are tracked, nothing to do\n")
		os.Exit(1)
	}

	repoNames := make([]string, 0, len(repos))
	for _, r := range repos {
		repoNames = append(repoNames, r.Name)
	}

	webhookSecret := config.WebhookSecret()

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("webhook_endpoint", config.WebhookEndpoint),
		zap.String("status_endpoint", config.StatusEndpoint),
		zap.String("trigger_endpoint", config.TriggerEndpoint),
		zap.String("webhook_secret", hide(webhookSecret)),
		zap.String("trigger_token", hide(config.TriggerToken)),
		zap.String("state_file", config.StateFile),
		zap.Int("workers", config.Workers),
		zap.Duration("pull_timeout", config.PullTimeout),
		zap.Duration("install_timeout", config.InstallTimeout),
		zap.Duration("health_check_timeout", config.HealthCheckTimeout),
		zap.Duration("periodic_trigger_interval", config.PeriodicTriggerInterval),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.Strings("repositories", repoNames),
	)

	if webhookSecret == "" {
		logger.Warn("webhook secret is empty, authenticity of webhook events is not verified")
	}

	if config.TriggerToken == "" {
		logger.Warn("trigger token is empty, trigger endpoint is not protected")
	}

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	resolver, err := deploy.NewResolver(config.RepositoryQuery)
	exitOnErr("could not parse repository_query", err)

	var storeOpts []deploy.StoreOption
	var stateFile *deploy.StateFile
	if config.StateFile != "" {
		stateFile = deploy.NewStateFile(config.StateFile)
		storeOpts = append(storeOpts, deploy.WithPersister(stateFile))
	}
	store := deploy.NewStore(storeOpts...)

	pullRetryer := retryer.New()
	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		pullRetryer.Stop()
	}, shutdownPrioTriggers)

	executor := deploy.NewExecutor(
		store,
		repos,
		gitrepo.New(),
		install.New(),
		deploy.WithHealthChecker(healthcheck.New()),
		deploy.WithRetryer(pullRetryer),
		deploy.WithTimeouts(config.PullTimeout, config.InstallTimeout, config.HealthCheckTimeout),
	)

	if stateFile != nil {
		mustRestoreState(store, stateFile)
	}

	lockMgr := deploy.NewLockManager(config.Workers, routines.WithDeferFunc(panicHandler))
	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		logger.Info(
			"waiting for running updates to finish",
			logfields.Event("lock_manager_stopping"),
		)
		lockMgr.Stop()
	}, shutdownPrioLockManager)

	dispatcher := deploy.NewDispatcher(webhookSecret, store, lockMgr, executor, resolver)

	mux := http.NewServeMux()

	wh := webhook.New(dispatcher)
	mux.HandleFunc(config.WebhookEndpoint, wh.HTTPHandler)

	httpSvc := deploy.NewHTTPService(store, dispatcher, deploy.NewTokenAuthorizer(config.TriggerToken))
	httpSvc.RegisterHandlers(mux, config.StatusEndpoint, config.TriggerEndpoint)

	if config.MetricsEndpoint != "" {
		mux.Handle(config.MetricsEndpoint, promhttp.Handler())
	}

	logger.Info(
		"registered http endpoints",
		logfields.Event("http_handlers_registered"),
		zap.String("webhook_endpoint", config.WebhookEndpoint),
		zap.String("status_endpoint", config.StatusEndpoint),
		zap.String("trigger_endpoint", config.TriggerEndpoint),
		zap.String("metrics_endpoint", config.MetricsEndpoint),
	)

	if config.HTTPListenAddr != "" {
		startServer("http", config.HTTPListenAddr, "", "", mux)
	}

	if config.HTTPSListenAddr != "" {
		startServer("https", config.HTTPSListenAddr, config.HTTPSCertFile, config.HTTPSKeyFile, mux)
	}

	if config.TriggerOnStartup {
		logger.Info("triggering updates of all repositories on startup", logfields.Event("startup_trigger"))
		dispatcher.TriggerAll()
	}

	if config.PeriodicTriggerInterval > 0 {
		startPeriodicTrigger(dispatcher, config.PeriodicTriggerInterval)
	}

	select {}
}
