package builtin

import (
	"context"
	"errors"

	"alarmd/internal/step"
)

// Notify sends a Telegram message through the shared notifier.
//
// Config:
//
//	message  (required)
type Notify struct {
	message string
	env     Env
}

func newNotify(cfg step.Config, env Env) (step.Step, error) {
	return &Notify{message: cfg.String("message"), env: env}, nil
}

func (n *Notify) Kind() string { return "notify" }

func (n *Notify) Validate() error {
	if n.message == "" {
		return step.Missing("message")
	}
	return nil
}

func (n *Notify) Execute(ctx context.Context) error {
	if n.env.Notifier == nil {
		return errors.New("telegram notifier not configured")
	}
	return n.env.Notifier.Send(ctx, n.message)
}

func (n *Notify) Stop() {}

func (n *Notify) Summary() string { return "notify: " + n.message }
