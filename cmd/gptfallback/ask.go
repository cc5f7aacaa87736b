package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/gptfallback/internal/config"
	"github.com/MrWong99/gptfallback/internal/fallback"
	"github.com/MrWong99/gptfallback/internal/settings"
	"github.com/MrWong99/gptfallback/pkg/bus"
)

var (
	askSettingsPath string
	askVerbose      bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the configured model from the terminal",
	Long: `ask runs the skill on an in-process bus and prints what it would say.
With a question argument it answers once; without one it reads questions
from standard input, one per line, and keeps the conversation so that
follow-up questions have context.`,
	Args: cobra.ArbitraryArgs,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSettingsPath, "settings", "s", "",
		"skill settings file; overrides skill.settings_path from the config")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "log at debug level")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	if askVerbose {
		level.Set(slog.LevelDebug)
	}
	slog.SetDefault(newLogger(level))

	path := cfg.Skill.SettingsPath
	if askSettingsPath != "" {
		path = askSettingsPath
	}
	store := settings.NewFileStore(path)
	st, err := store.Load()
	if err != nil {
		return err
	}
	if !st.Configured() {
		return fmt.Errorf("%w: set key in %s", fallback.ErrNotConfigured, path)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	local := bus.NewLocal()
	defer local.Close()
	out := cmd.OutOrStdout()
	local.On("speak", func(m bus.Message) {
		fmt.Fprintln(out, m.String("utterance"))
	})

	skill := fallback.New(local, store, reg,
		fallback.WithSkillID(cfg.Skill.SkillID),
		fallback.WithLang(cfg.Skill.Lang),
		fallback.WithContext(ctx),
		fallback.WithBreaker(cfg.Skill.Breaker.CircuitBreaker()),
	)
	if err := skill.Initialize(ctx); err != nil {
		return err
	}
	defer skill.Shutdown(context.WithoutCancel(ctx))

	if len(args) > 0 {
		return askOnce(ctx, local, skill, strings.Join(args, " "))
	}
	return askLoop(ctx, cmd.InOrStdin(), local, skill)
}

// askOnce plays one turn: the question is announced as a recognised
// utterance so the skill records it, then answered.
func askOnce(ctx context.Context, b bus.Bus, skill *fallback.Skill, question string) error {
	utt := bus.NewMessage("recognizer_loop:utterance", map[string]any{"utterances": []any{question}})
	if err := b.Emit(ctx, utt); err != nil {
		return err
	}
	res := skill.Ask(ctx, bus.NewMessage("question", map[string]any{"utterance": question})).Wait()
	if res.Err != nil && res.Spoken == 0 {
		return res.Err
	}
	if res.Err != nil {
		slog.Warn("reply cut short", "err", res.Err)
	}
	return nil
}

func askLoop(ctx context.Context, in io.Reader, b bus.Bus, skill *fallback.Skill) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		q := strings.TrimSpace(sc.Text())
		if q == "" {
			continue
		}
		if err := askOnce(ctx, b, skill, q); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			slog.Error("no answer", "err", err)
		}
	}
	return sc.Err()
}
