package builtin

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"alarmd/internal/step"
	"alarmd/pkg/logx"
)

// Alarm plays an audio file with an external player until the file ends, the
// optional duration elapses, or the step is stopped.
//
// Config:
//
//	audio_file  (required) path to the sound file
//	player      command to play it, default "play"
//	duration    optional cap, Go duration or seconds
type Alarm struct {
	file     string
	player   string
	duration time.Duration
	env      Env

	mu  sync.Mutex
	cmd *exec.Cmd
}

func newAlarm(cfg step.Config, env Env) (step.Step, error) {
	a := &Alarm{
		file:   cfg.String("audio_file"),
		player: cfg.StringOr("player", "play"),
		env:    env,
	}
	if d, ok := cfg.Duration("duration"); ok {
		a.duration = d
	}
	return a, nil
}

func (a *Alarm) Kind() string { return "alarm" }

func (a *Alarm) Validate() error {
	if a.file == "" {
		return step.Missing("audio_file")
	}
	if _, err := os.Stat(a.file); err != nil {
		return step.Invalid("audio_file", "not readable: "+err.Error())
	}
	return nil
}

func (a *Alarm) Execute(ctx context.Context) error {
	runCtx := ctx
	if a.duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.duration)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, a.player, a.file)
	a.mu.Lock()
	a.cmd = cmd
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.cmd = nil
		a.mu.Unlock()
	}()

	a.env.Log.Info("alarm playing", logx.String("file", a.file), logx.String("player", a.player))
	err := cmd.Run()
	if runCtx.Err() != nil {
		// The duration cap expiring is the normal way an alarm ends.
		if a.duration > 0 && ctx.Err() == nil {
			return nil
		}
		return runCtx.Err()
	}
	return err
}

func (a *Alarm) Stop() {
	a.mu.Lock()
	cmd := a.cmd
	a.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (a *Alarm) Summary() string { return "play " + a.file }
