package builtin

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"alarmd/internal/step"
	"alarmd/pkg/logx"
)

// News fetches an RSS feed and reads the top headline and its summary aloud.
//
// Config:
//
//	rss_url   (required) feed URL
//	items     how many headlines to read, default 1
type News struct {
	url   string
	items int
	env   Env
}

type rssFeed struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

func newNews(cfg step.Config, env Env) (step.Step, error) {
	return &News{
		url:   cfg.String("rss_url"),
		items: cfg.IntOr("items", 1),
		env:   env,
	}, nil
}

func (n *News) Kind() string { return "news" }

func (n *News) Validate() error {
	if n.url == "" {
		return step.Missing("rss_url")
	}
	if !strings.HasPrefix(n.url, "http://") && !strings.HasPrefix(n.url, "https://") {
		return step.Invalid("rss_url", "must be an http(s) URL")
	}
	if n.items < 1 {
		return step.Invalid("items", "must be at least 1")
	}
	return nil
}

func (n *News) Execute(ctx context.Context) error {
	feed, err := n.fetch(ctx)
	if err != nil {
		return err
	}
	if len(feed.Channel.Items) == 0 {
		return errors.New("feed has no items")
	}

	count := n.items
	if count > len(feed.Channel.Items) {
		count = len(feed.Channel.Items)
	}
	n.env.Log.Info("reading news", logx.String("feed", feed.Channel.Title), logx.Int("items", count))

	if err := n.env.say(ctx, "Here are the latest headlines."); err != nil {
		return err
	}
	for _, item := range feed.Channel.Items[:count] {
		text := stripTags(item.Title)
		if desc := stripTags(item.Description); desc != "" {
			text += ". " + desc
		}
		if err := n.env.say(ctx, text); err != nil {
			return err
		}
	}
	return nil
}

func (n *News) fetch(ctx context.Context) (*rssFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.env.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed fetch: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("feed parse: %w", err)
	}
	return &feed, nil
}

func (n *News) Stop() {}

func (n *News) Summary() string { return "news from " + n.url }

// stripTags flattens the HTML fragments feeds put in descriptions into plain
// speakable text.
func stripTags(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
