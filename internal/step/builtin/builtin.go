// Package builtin holds the step kinds shipped with the daemon: alarm sound,
// news readout, weather report, quote of the day, URL opener and Telegram
// notification. Each kind is a small struct wired to shared services through
// Env at registration time.
package builtin

import (
	"context"
	"net/http"
	"time"

	"alarmd/internal/notify"
	"alarmd/internal/speech"
	"alarmd/internal/step"
	"alarmd/pkg/logx"
)

// QuoteSource yields one quote for the quote step. The storage layer
// satisfies it.
type QuoteSource interface {
	RandomQuote(ctx context.Context) (text, author string, err error)
}

// Env carries the shared services builtin steps draw on. Nil fields are
// tolerated: steps that need an absent service fail their Execute with a
// clear error instead of panicking.
type Env struct {
	Log      logx.Logger
	Speaker  speech.Speaker
	Quotes   QuoteSource
	Notifier *notify.Notifier
	HTTP     *http.Client
}

func (e Env) httpClient() *http.Client {
	if e.HTTP != nil {
		return e.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (e Env) say(ctx context.Context, text string) error {
	if e.Speaker == nil {
		return nil
	}
	return e.Speaker.Say(ctx, text)
}

// Register installs every builtin kind into reg.
func Register(reg *step.Registry, env Env) {
	if env.Log.IsZero() {
		env.Log = logx.Nop()
	}
	reg.Register("alarm", func(cfg step.Config) (step.Step, error) {
		return newAlarm(cfg, env)
	})
	reg.Register("news", func(cfg step.Config) (step.Step, error) {
		return newNews(cfg, env)
	})
	reg.Register("weather", func(cfg step.Config) (step.Step, error) {
		return newWeather(cfg, env)
	})
	reg.Register("quote", func(cfg step.Config) (step.Step, error) {
		return newQuote(cfg, env)
	})
	reg.Register("open_url", func(cfg step.Config) (step.Step, error) {
		return newURLOpen(cfg, env)
	})
	reg.Register("notify", func(cfg step.Config) (step.Step, error) {
		return newNotify(cfg, env)
	})
}
