package session

import (
	"os"
	"path/filepath"

	"github.com/wecrm/crmchat/internal/config"
)

// BaseDir returns ~/.crmchat, or $CRMCHAT_HOME when set.
func BaseDir() string {
	if dir := os.Getenv(config.EnvHomeOverride); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".crmchat")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the session's local storage database.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "crmchat.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the log file path for a binary running in the session.
func LogPath(name, binary string) string {
	return filepath.Join(LogDir(name), binary+".log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnvPath returns the optional dotenv file next to the config.
func EnvPath() string {
	return filepath.Join(BaseDir(), ".env")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
