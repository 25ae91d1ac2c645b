// Package speech runs an external text-to-speech command.
//
// The command is a shell template with a {text} placeholder, e.g.
//
//	simple_google_tts -p en {text}
//
// matching how the hardware setups this daemon targets already do TTS.
package speech

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"alarmd/pkg/logx"
)

// Speaker is the narrow contract steps depend on.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

type Config struct {
	// Command is the TTS shell template. Empty disables speech (Say becomes
	// a no-op), which keeps routines usable on headless test machines.
	Command string
	Timeout time.Duration
}

type Engine struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Engine{cfg: cfg, log: log}
}

func (e *Engine) Say(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	tpl := strings.TrimSpace(e.cfg.Command)
	if tpl == "" {
		e.log.Debug("speech disabled; skipping", logx.Int("chars", len(text)))
		return nil
	}
	if !strings.Contains(tpl, "{text}") {
		return errors.New("speech command template has no {text} placeholder")
	}

	cmdline := strings.ReplaceAll(tpl, "{text}", shellQuote(text))

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, "sh", "-c", cmdline)
	err := cmd.Run()
	if err != nil {
		if runCtx.Err() != nil {
			// Cancelled or timed out; the step decides whether that is fatal.
			return runCtx.Err()
		}
		return err
	}
	e.log.Debug("speech done", logx.Int("chars", len(text)), logx.Duration("took", time.Since(start)))
	return nil
}

// shellQuote single-quotes text for sh -c, escaping embedded quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
