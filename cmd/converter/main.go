package main

import (
	"os"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/kbdconv/rp2040-keyboard-converter/internal/configpaths"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/obslog"
)

// CLI is the converter bench harness's top-level command set: it
// replays a captured wire-trace through the core pipeline, or drives
// the keymap engine directly from an interactive terminal session.
type CLI struct {
	Log LogConfig `embed:"" prefix:"log."`

	Replay      ReplayCmd      `cmd:"" help:"Replay a captured wire trace through the receiver, decoder, keymap and HID aggregator."`
	Interactive InteractiveCmd `cmd:"" help:"Drive the keymap engine from raw terminal keystrokes."`
}

// LogConfig groups the harness's logging flags, mirroring the
// teacher's internal/log.SetupLogger wiring in cmd/viiper.go.
type LogConfig struct {
	Level string `help:"Log level (debug, info, warn, error)." default:"info" env:"CONVERTER_LOG_LEVEL"`
	File  string `help:"Optional path to additionally write logs to."`
	Raw   string `help:"Optional path to write a raw rx/tx byte trace to."`
}

func main() {
	var cli CLI

	yamlPath, _ := configpaths.DefaultConfigPath("yaml")
	tomlPath, _ := configpaths.DefaultConfigPath("toml")
	var yamlPaths, tomlPaths []string
	if yamlPath != "" {
		yamlPaths = []string{yamlPath}
	}
	if tomlPath != "" {
		tomlPaths = []string{tomlPath}
	}

	ctx := kong.Parse(&cli,
		kong.Name("converter"),
		kong.Description("Bench harness for the vintage keyboard/mouse wire-protocol converter core."),
		kong.UsageOnError(),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, closers, err := obslog.SetupLogger(cli.Log.Level, cli.Log.File)
	if err != nil {
		_, _ = os.Stderr.WriteString("converter: failed to set up logging: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	var rawLogger obslog.RawLogger
	if cli.Log.Raw != "" {
		f, err := os.OpenFile(cli.Log.Raw, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Error("failed to open raw trace file", "file", cli.Log.Raw, "error", err)
			rawLogger = obslog.NewRaw(nil)
		} else {
			rawLogger = obslog.NewRaw(f)
			closers = append(closers, f)
		}
	} else {
		rawLogger = obslog.NewRaw(nil)
	}

	ctx.Bind(logger)
	ctx.BindTo(rawLogger, (*obslog.RawLogger)(nil))

	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}
