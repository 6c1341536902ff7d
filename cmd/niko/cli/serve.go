package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nikoai/niko/internal/config"
	"github.com/nikoai/niko/internal/metrics"
	"github.com/nikoai/niko/internal/ratelimit"
	"github.com/nikoai/niko/internal/server"
	"github.com/nikoai/niko/internal/server/middleware"
	"github.com/nikoai/niko/internal/service"
	"github.com/nikoai/niko/internal/sweep"
)

const banner = `
 _   _ ___ _  _____
| \ | |_ _| |/ / _ \
|  \| || || ' / | | |
| |\  || || . \ |_| |
|_| \_|___|_|\_\___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		noUI bool
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Niko API server",
		Long:  "Start the HTTP server for registration, login, account management and administration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(noUI, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&noUI, "no-ui", false, "Do not serve the static pages")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, CORS *)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(noUI, dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr, cfg.Logging, dev)
	if err != nil {
		return err
	}

	fmt.Print(banner)
	fmt.Println()

	ctx := context.Background()

	// 1. Credential store
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}
	defer store.Close()
	logger.Info("credential store initialized", "driver", store.Driver())

	// 2. Signing secret
	secret, generated, err := config.EnsureSigningSecret(ctx, store, cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("signing secret: %w", err)
	}
	if generated {
		logger.Warn("no auth.jwt_secret configured; generated one and saved it in the store")
	}

	// 3. Limiter, metrics and the auth service
	policies, err := cfg.Policies()
	if err != nil {
		return err
	}
	purgeInterval, err := cfg.PurgeInterval()
	if err != nil {
		return err
	}
	shutdownTimeout, err := cfg.ShutdownTimeout()
	if err != nil {
		return err
	}

	m := metrics.New()
	authSvc, err := newAuthService(cfg, store, secret, logger, service.WithRecorder(m))
	if err != nil {
		return err
	}
	limiter := ratelimit.New(policies)

	// 4. First run: no administrator yet
	hasAdmin, err := store.HasAnyPrivileged(ctx)
	if err != nil {
		logger.Warn("failed to check for privileged accounts", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no privileged account found - run: niko user create --admin <name>")
	}
	if cfg.Auth.ServiceKey == "" {
		logger.Info("trusted-service key not configured; X-API-Key is ignored")
	}

	// 5. Purge sweep
	sweeper := sweep.New(authSvc, limiter, purgeInterval, logger)
	sweeper.Start()
	defer sweeper.Shutdown()

	// 6. HTTP server
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     cfg.Server.CORS.Origins,
		CORSMethods:     cfg.Server.CORS.Methods,
		EnableUI:        !noUI,
		Production:      cfg.Server.Production,
		BehindProxy:     cfg.Server.BehindProxy,
		ServiceLane: middleware.ServiceLane{
			Key:     cfg.Auth.ServiceKey,
			Subject: cfg.Auth.ServiceSubject,
		},
	}
	if dev {
		srvCfg.CORSOrigins = []string{"*"}
	}
	srv := server.New(srvCfg, authSvc, limiter, m, logger)

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "path", pidFilePath(), "error", err)
	}
	defer removePID()

	host, port := cfg.Server.Host, cfg.Server.Port
	fmt.Printf("→ Niko %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Purge sweep every %s, retention %s\n", purgeInterval, authSvc.Retention())
	fmt.Println()

	return srv.ListenAndServe()
}
