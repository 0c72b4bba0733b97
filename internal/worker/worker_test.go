package worker

import (
	"context"
	"strings"
	"testing"

	"github.com/MagClaw/MagClaw/internal/humanio"
	"github.com/MagClaw/MagClaw/internal/message"
)

func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	for evt := range ch {
		out = append(out, evt)
	}
	return out
}

func TestNoOpTerminates(t *testing.T) {
	n := NewNoOp()
	ch, err := n.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, ch)
	if len(events) != 1 || !events[0].Terminal {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Env.Source != NoOpName {
		t.Errorf("source = %q", events[0].Env.Source)
	}
}

func TestUserProxyRelaysLastInstruction(t *testing.T) {
	human := humanio.NewAuto("the password is swordfish")
	u := NewUserProxy(human)

	msgs := []message.Envelope{
		message.New("orchestrator", message.Text{Content: "old instruction"}),
		message.New("orchestrator", message.Text{Content: "What is the password?"}),
	}
	ch, err := u.Run(context.Background(), msgs)
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, ch)
	if len(events) != 1 || !events[0].Terminal {
		t.Fatalf("events = %+v", events)
	}
	if got := events[0].Env.TextContent(); got != "the password is swordfish" {
		t.Errorf("reply = %q", got)
	}
	if len(human.Prompts) != 1 || human.Prompts[0] != "What is the password?" {
		t.Errorf("prompts = %v", human.Prompts)
	}
}

func TestUserProxyChannelFailureIsInBand(t *testing.T) {
	u := NewUserProxy(failingChannel{})
	ch, err := u.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, ch)
	if len(events) != 1 || !events[0].Terminal {
		t.Fatalf("events = %+v", events)
	}
	if !strings.Contains(events[0].Env.TextContent(), "human channel unavailable") {
		t.Errorf("reply = %q", events[0].Env.TextContent())
	}
}

type failingChannel struct{}

func (failingChannel) Prompt(ctx context.Context, text string, kind humanio.Kind) (string, error) {
	return "", context.DeadlineExceeded
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewNoOp()); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewNoOp()); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(NewUserProxy(humanio.NewAuto("")))
	r.Register(NewNoOp())

	names := r.Names()
	if len(names) != 2 || names[0] != NoOpName || names[1] != UserProxyName {
		t.Errorf("names = %v", names)
	}
	desc := r.Describe()
	if !strings.Contains(desc, NoOpName) || !strings.Contains(desc, UserProxyName) {
		t.Errorf("describe = %q", desc)
	}
}
