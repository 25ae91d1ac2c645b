package builtin

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"alarmd/internal/step"
	"alarmd/pkg/logx"
)

// URLOpen launches a page in the default browser, optionally announcing it
// first and holding the step open so the page stays in front.
//
// Config:
//
//	url      (required)
//	message  optional text spoken before opening
//	opener   command, default "xdg-open"
//	hold     optional time to keep the step running after opening
type URLOpen struct {
	url     string
	message string
	opener  string
	hold    time.Duration
	env     Env
}

func newURLOpen(cfg step.Config, env Env) (step.Step, error) {
	u := &URLOpen{
		url:     cfg.String("url"),
		message: cfg.String("message"),
		opener:  cfg.StringOr("opener", "xdg-open"),
		env:     env,
	}
	if d, ok := cfg.Duration("hold"); ok {
		u.hold = d
	}
	return u, nil
}

func (u *URLOpen) Kind() string { return "open_url" }

func (u *URLOpen) Validate() error {
	if u.url == "" {
		return step.Missing("url")
	}
	if !strings.HasPrefix(u.url, "http://") && !strings.HasPrefix(u.url, "https://") {
		return step.Invalid("url", "must be an http(s) URL")
	}
	return nil
}

func (u *URLOpen) Execute(ctx context.Context) error {
	if u.message != "" {
		if err := u.env.say(ctx, u.message); err != nil {
			return err
		}
	}

	u.env.Log.Info("opening url", logx.String("url", u.url), logx.String("opener", u.opener))
	if err := exec.CommandContext(ctx, u.opener, u.url).Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	if u.hold > 0 {
		select {
		case <-time.After(u.hold):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (u *URLOpen) Stop() {}

func (u *URLOpen) Summary() string { return "open " + u.url }
