package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/server"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/sweep"
)

const banner = `
 _  _______ ___   _____ _____ ___
| |/ / __\ V / __| _ \_   _| __|
|   <| _| \ / (_ |   / | | | _|
|_|\_\___||_|\___|_|_\ |_| |___|
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Keygate API server",
		Long:  "Start the HTTP server that issues session tokens and validates API keys.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return daemonize()
			}
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging, CORS *)")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "Run in the background, logging to the data directory")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logLevel := slog.LevelInfo
	if dev || viper.GetString("logging.level") == "debug" {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if viper.GetString("logging.format") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()
	logger.Info("store initialized", "driver", viper.GetString("database.driver"))

	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		if dev {
			jwtSecret = "keygate-dev-secret-change-me"
			logger.Warn("using development JWT secret; set KEYGATE_AUTH_JWT_SECRET in production")
		} else {
			return fmt.Errorf("auth.jwt_secret is not set (use KEYGATE_AUTH_JWT_SECRET or the config file)")
		}
	}

	authSvc := service.NewAuthService(store, jwtSecret, sessionTTL())
	keySvc := service.NewKeyService(store, defaultKeyExpiryDays())
	projectSvc := service.NewProjectService(store)

	corsOrigins := viper.GetStringSlice("server.cors.origins")
	if len(corsOrigins) == 0 || dev {
		corsOrigins = []string{"*"}
	}

	shutdownTimeout := 30 * time.Second
	if s := viper.GetString("server.shutdown_timeout"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			shutdownTimeout = d
		}
	}

	srvCfg := server.Config{
		Host:            host,
		Port:            port,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     corsOrigins,
		LoginRateLimit:  viper.GetInt("auth.login_rate_limit"),
	}

	srv := server.New(srvCfg, store, authSvc, keySvc, projectSvc, logger)

	sweeper := sweep.New(store, logger, time.Hour)
	sweeper.Start()
	defer sweeper.Shutdown()

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "error", err)
	}
	defer removePID()

	fmt.Printf("→ Keygate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}

// daemonize re-launches the current binary in the background with output
// redirected to the log file, then returns immediately.
func daemonize() error {
	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"serve"}
	for _, a := range os.Args[2:] {
		if a != "--daemon" {
			args = append(args, a)
		}
	}

	child := exec.Command(os.Args[0], args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}

	fmt.Printf("Keygate server started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop with: keygate stop")
	return nil
}
