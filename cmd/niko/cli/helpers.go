package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/nikoai/niko/internal/config"
	"github.com/nikoai/niko/internal/password"
	"github.com/nikoai/niko/internal/service"
	"github.com/nikoai/niko/internal/token"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// NIKO_DATA_DIR env var, or ~/.niko as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("NIKO_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".niko")
}

// loadConfig decodes the effective configuration from viper.
func loadConfig() (*config.YAMLConfig, error) {
	return config.FromViper(viper.GetViper())
}

// openStore opens the credential store named by store.driver. The sqlite
// driver without a DSN keeps its database in the data directory.
func openStore(cfg *config.YAMLConfig) (*config.Store, error) {
	driver := cfg.Store.Driver
	if driver == "" {
		driver = "sqlite"
	}
	if driver == "sqlite" && cfg.Store.DSN == "" {
		return config.NewStore(resolveDataDir())
	}
	return config.Open(driver, cfg.Store.DSN)
}

// newLogger builds the process logger from the logging section. dev forces
// debug level.
func newLogger(w io.Writer, cfg config.LoggingConfig, dev bool) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("logging.format: unknown format %q (want text or json)", cfg.Format)
	}
}

// newAuthService wires the hasher and token service from the auth section.
// secret may be empty for commands that never issue tokens.
func newAuthService(cfg *config.YAMLConfig, store *config.Store, secret string, logger *slog.Logger, opts ...service.Option) (*service.AuthService, error) {
	ttl, err := cfg.TokenTTL()
	if err != nil {
		return nil, err
	}
	retention, err := cfg.Retention()
	if err != nil {
		return nil, err
	}

	hasher := password.NewHasher(cfg.Auth.BcryptCost, password.WithPlaintextFallback(cfg.Auth.PlaintextFallback))
	var tokenOpts []token.Option
	if cfg.Auth.Issuer != "" {
		tokenOpts = append(tokenOpts, token.WithIssuer(cfg.Auth.Issuer))
	}
	tokens := token.NewService(secret, ttl, tokenOpts...)

	opts = append([]service.Option{
		service.WithRetention(retention),
		service.WithLogger(logger),
	}, opts...)
	return service.NewAuthService(store, hasher, tokens, opts...), nil
}

// readNewPassword prompts twice for a password without echo.
func readNewPassword() (string, error) {
	fmt.Print("Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Println()

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "niko.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
