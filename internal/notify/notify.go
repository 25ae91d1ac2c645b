// Package notify pushes short status messages to a Telegram chat. It is the
// delivery side of the "notify" step and of run-outcome announcements; when
// no token is configured the notifier is simply absent and callers skip it.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"alarmd/pkg/logx"
)

type Config struct {
	Token      string
	ChatID     int64
	RatePerSec float64 // outbound message budget; 0 means 1/s
}

type Notifier struct {
	bot     *tele.Bot
	chat    *tele.Chat
	limiter *rate.Limiter
	log     logx.Logger
}

// New builds a notifier. Returns (nil, nil) when no token is configured so
// callers can treat "not set up" and "set up" uniformly.
func New(cfg Config, log logx.Logger) (*Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, nil
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify: chat_id is required when a token is set")
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}

	per := cfg.RatePerSec
	if per <= 0 {
		per = 1
	}

	return &Notifier{
		bot:     bot,
		chat:    &tele.Chat{ID: cfg.ChatID},
		limiter: rate.NewLimiter(rate.Limit(per), 3),
		log:     log,
	}, nil
}

// Send delivers one text message, waiting for the rate limiter first.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if n == nil || n.bot == nil {
		return errors.New("notify: not configured")
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := n.bot.Send(n.chat, text)
	if err != nil {
		n.log.Warn("telegram send failed", logx.Err(err))
	}
	return err
}

// Close stops the underlying bot session.
func (n *Notifier) Close() {
	if n != nil && n.bot != nil {
		n.bot.Stop()
	}
}
