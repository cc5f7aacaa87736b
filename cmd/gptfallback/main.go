// Command gptfallback runs the LLM fallback skill against a messagebus, or
// asks it questions from the terminal.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/gptfallback/internal/config"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gptfallback",
	Short: "Answer unhandled voice assistant utterances with a chat model",
	Long: `gptfallback registers as a low-priority fallback skill on a voice
assistant messagebus. Utterances no other skill handled are sent to a chat
model together with the recent conversation, and the reply is spoken
sentence by sentence as it streams in.

The service configuration (--config) covers the bus connection, the HTTP
probe and metrics listener and how the skill registers. The skill settings
file it points to holds the API key, endpoint, model and persona, and is
re-read for every question.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml",
		"path to the service configuration file; defaults apply when it does not exist")
	rootCmd.AddCommand(serveCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gptfallback: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration at path. A missing file yields the
// defaults and reports exists=false.
func loadConfig(path string) (cfg *config.Config, exists bool, err error) {
	cfg, err = config.Load(path)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, os.ErrNotExist):
		return config.Default(), false, nil
	default:
		return nil, false, err
	}
}

// newLogger returns a text logger whose level follows lvl.
func newLogger(lvl *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
