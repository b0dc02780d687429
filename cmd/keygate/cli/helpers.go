package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// KEYGATE_DATA_DIR env var, or ~/.keygate as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("KEYGATE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.keygate"
}

// openStore opens the record store selected by the database.driver setting:
// SQLite in the data directory by default, or Postgres when a DSN is
// configured.
func openStore() (*config.Store, error) {
	driver := viper.GetString("database.driver")
	dsn := viper.GetString("database.dsn")

	switch driver {
	case config.DriverPostgres:
		return config.NewStore(config.DriverPostgres, dsn)
	default:
		if dsn == "" {
			dsn = resolveDataDir()
		}
		return config.NewStore(config.DriverSQLite, dsn)
	}
}

// resolveUser looks up the account the command operates as. Most commands
// take --email; commands acting on a fresh install fail with a hint to run
// 'keygate user create' first.
func resolveUser(ctx context.Context, store *config.Store, email string) (*model.User, error) {
	if email == "" {
		return nil, fmt.Errorf("--email is required")
	}
	user, err := store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("no account for %q (create one with 'keygate user create')", email)
	}
	return user, nil
}

// sessionTTL returns the configured session token lifetime.
func sessionTTL() time.Duration {
	if s := viper.GetString("auth.session_ttl"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return 720 * time.Hour
}

// defaultKeyExpiryDays returns the configured default API key lifetime.
func defaultKeyExpiryDays() int {
	if d := viper.GetInt("auth.default_key_expiry_days"); d > 0 {
		return d
	}
	return 90
}

func newKeyService(store *config.Store) *service.KeyService {
	return service.NewKeyService(store, defaultKeyExpiryDays())
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "keygate.pid")
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

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "keygate.log")
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
