package builtin

import (
	"context"
	"errors"

	"alarmd/internal/step"
	"alarmd/pkg/logx"
)

// Quote speaks a random entry from the quote table.
//
// Config:
//
//	intro_text   spoken before the quote, default "Your quote of the day is"
type Quote struct {
	intro string
	env   Env
}

func newQuote(cfg step.Config, env Env) (step.Step, error) {
	return &Quote{
		intro: cfg.StringOr("intro_text", "Your quote of the day is"),
		env:   env,
	}, nil
}

func (q *Quote) Kind() string { return "quote" }

func (q *Quote) Validate() error { return nil }

func (q *Quote) Execute(ctx context.Context) error {
	if q.env.Quotes == nil {
		return errors.New("no quote source configured")
	}
	text, author, err := q.env.Quotes.RandomQuote(ctx)
	if err != nil {
		return err
	}
	q.env.Log.Info("quote selected", logx.String("author", author))

	line := q.intro + ": " + text
	if author != "" {
		line += ". By " + author
	}
	return q.env.say(ctx, line)
}

func (q *Quote) Stop() {}

func (q *Quote) Summary() string { return "quote of the day" }
