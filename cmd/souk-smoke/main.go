// Command souk-smoke exercises the data-access core against a live
// backend: it fetches the events list twice (the second read must be a
// cache hit), then optionally observes one conversation topic until
// interrupted.
//
// Configuration comes from the SOUK_* environment variables, plus:
//
//	SOUK_SMOKE_TOKEN         bearer token to use (required)
//	SOUK_SMOKE_CONVERSATION  conversation id to observe (optional)
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"souk/client"
	"souk/repository"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// staticSession is a fixed-token SessionProvider for smoke runs. Refresh
// always fails: an expired token should make the smoke test fail loudly.
type staticSession struct {
	token string
}

func (s *staticSession) Token(context.Context) (string, error) { return s.token, nil }
func (s *staticSession) Refresh(context.Context) error         { return errors.New("static session cannot refresh") }
func (s *staticSession) Clear(context.Context) error           { return nil }

func run() error {
	cfg := client.LoadConfig()
	logger := client.NewLogger(cfg.LogLevel, cfg.LogFormat)

	token := strings.TrimSpace(os.Getenv("SOUK_SMOKE_TOKEN"))
	if token == "" {
		return errors.New("SOUK_SMOKE_TOKEN is required")
	}

	c, err := client.New(cfg, logger, client.Deps{Session: &staticSession{token: token}})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	first, err := c.Events().List(ctx, repository.EventFilters{Limit: 5})
	if err != nil {
		return err
	}
	logger.Info("smoke.events.first", "count", len(first.Items), "stale", first.Stale)

	// Same filters again: must be served from cache, no network call.
	second, err := c.Events().List(ctx, repository.EventFilters{Limit: 5})
	if err != nil {
		return err
	}
	logger.Info("smoke.events.second", "count", len(second.Items), "stale", second.Stale)

	convID := strings.TrimSpace(os.Getenv("SOUK_SMOKE_CONVERSATION"))
	if convID == "" {
		return nil
	}

	sub, err := c.Chat().ObserveConversation(ctx, convID)
	if err != nil {
		return err
	}
	defer sub.Close()

	logger.Info("smoke.observe.start", "topic", sub.Topic())
	for {
		select {
		case <-ctx.Done():
			logger.Info("smoke.observe.stop")
			return nil
		case u := <-sub.C():
			logger.Info("smoke.observe.update", "topic", u.Topic, "type", u.Type, "key", u.Key.String())
		}
	}
}
