package humanio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Slack prompts a configured Slack channel and waits for the next human
// message in that channel via Socket Mode.
type Slack struct {
	api       *slack.Client
	sm        *socketmode.Client
	channelID string

	mu     sync.Mutex
	waiter chan string
	once   sync.Once
}

// NewSlack creates a Slack-backed human channel.
func NewSlack(botToken, appToken, channelID string) *Slack {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	return &Slack{
		api:       api,
		sm:        socketmode.New(api),
		channelID: channelID,
	}
}

// Start connects Socket Mode. Runs until the context is cancelled.
func (s *Slack) Start(ctx context.Context) {
	s.once.Do(func() {
		go s.listen()
		go func() {
			if err := s.sm.RunContext(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Slack socket mode stopped", "error", err)
			}
		}()
	})
}

func (s *Slack) listen() {
	for evt := range s.sm.Events {
		if evt.Type != socketmode.EventTypeEventsAPI {
			continue
		}
		if evt.Request != nil {
			s.sm.Ack(*evt.Request)
		}
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || ev.Type != slackevents.CallbackEvent {
			continue
		}
		in, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok || in == nil {
			continue
		}
		// Ignore other channels and our own bot posts.
		if in.Channel != s.channelID || in.BotID != "" {
			continue
		}

		s.mu.Lock()
		w := s.waiter
		s.waiter = nil
		s.mu.Unlock()
		if w != nil {
			select {
			case w <- in.Text:
			default:
			}
		}
	}
}

// Prompt posts the text and blocks for the next reply in the channel.
func (s *Slack) Prompt(ctx context.Context, text string, kind Kind) (string, error) {
	w := make(chan string, 1)
	s.mu.Lock()
	s.waiter = w
	s.mu.Unlock()

	if _, _, err := s.api.PostMessageContext(ctx, s.channelID, slack.MsgOptionText(text, false)); err != nil {
		s.clearWaiter(w)
		return "", fmt.Errorf("slack post: %w", err)
	}

	select {
	case reply := <-w:
		return reply, nil
	case <-ctx.Done():
		s.clearWaiter(w)
		return "", ctx.Err()
	}
}

func (s *Slack) clearWaiter(w chan string) {
	s.mu.Lock()
	if s.waiter == w {
		s.waiter = nil
	}
	s.mu.Unlock()
}
