package util

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "netinf-node"

// GetConfigDir returns the node's configuration directory
// Linux/BSD: $XDG_CONFIG_HOME/netinf-node or ~/.config/netinf-node
// macOS: ~/Library/Application Support/netinf-node
// Windows: %APPDATA%/netinf-node
func GetConfigDir() string {
	return filepath.Join(platformDir("APPDATA", "Roaming", "XDG_CONFIG_HOME", ".config"), appName)
}

// GetDataDir returns the directory holding the content store
// Linux/BSD: $XDG_DATA_HOME/netinf-node or ~/.local/share/netinf-node
// macOS: ~/Library/Application Support/netinf-node
// Windows: %LOCALAPPDATA%/netinf-node
func GetDataDir() string {
	return filepath.Join(platformDir("LOCALAPPDATA", "Local", "XDG_DATA_HOME", filepath.Join(".local", "share")), appName)
}

func platformDir(winEnv, winFallback, xdgEnv, xdgFallback string) string {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv(winEnv); dir != "" {
			return dir
		}
		return filepath.Join(os.Getenv("USERPROFILE"), "AppData", winFallback)
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support")
	default: // Linux, BSD, etc.
		if dir := os.Getenv(xdgEnv); dir != "" {
			return dir
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, xdgFallback)
	}
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.json")
}

// GetDefaultDBPath returns the default content store path
func GetDefaultDBPath() string {
	return filepath.Join(GetDataDir(), appName+".db")
}
