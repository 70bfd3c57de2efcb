// Package configpaths resolves the on-disk locations of this
// firmware's host-side artifacts: the CLI's own config file and, more
// importantly, keymap/board-profile documents loaded by
// internal/boardconfig and the cmd/converter bench harness. Adapted
// from the teacher's multi-service (server/proxy) candidate-path
// resolver down to the single "converter" artifact this repo has.
package configpaths

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigDir returns the platform-specific configuration
// directory for the converter CLI.
func DefaultConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("AppData"); appdata != "" {
			return filepath.Join(appdata, "rp2040-keyboard-converter"), nil
		}
		return "", errors.New("AppData not set")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "rp2040-keyboard-converter"), nil
		}
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".config", "rp2040-keyboard-converter"), nil
		}
		return "", errors.New("HOME not set")
	}
}

// DefaultConfigPath returns the default CLI config file path for the
// given format ("yaml", "yml", "toml", or else "json").
func DefaultConfigPath(format string) (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	ext := "json"
	switch format {
	case "yaml", "yml":
		ext = "yaml"
	case "toml":
		ext = "toml"
	}
	return filepath.Join(dir, "config."+ext), nil
}

// EnsureDir ensures the directory for a given file path exists.
func EnsureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	return os.MkdirAll(dir, 0o755)
}

// KeymapCandidatePaths builds the search order for a board's keymap
// document by extension, honoring an explicit userPath first, per
// boardID (e.g. "atps2-ibm-model-m"). Used by internal/boardconfig's
// YAML/TOML profile loader.
func KeymapCandidatePaths(userPath, boardID string) (yamlPaths, tomlPaths []string) {
	add := func(slice *[]string, p string) { *slice = append(*slice, p) }

	if userPath != "" {
		switch filepath.Ext(userPath) {
		case ".toml":
			add(&tomlPaths, userPath)
		default:
			add(&yamlPaths, userPath)
		}
	}

	wd, _ := os.Getwd()
	add(&yamlPaths, filepath.Join(wd, "keymaps", boardID+".yaml"))
	add(&yamlPaths, filepath.Join(wd, "keymaps", boardID+".yml"))
	add(&tomlPaths, filepath.Join(wd, "keymaps", boardID+".toml"))

	if dir, err := DefaultConfigDir(); err == nil {
		add(&yamlPaths, filepath.Join(dir, "keymaps", boardID+".yaml"))
		add(&tomlPaths, filepath.Join(dir, "keymaps", boardID+".toml"))
	}

	return
}
