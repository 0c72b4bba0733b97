// Package approval decides whether a proposed worker action needs
// human sign-off, and obtains the decision when it does.
package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MagClaw/MagClaw/internal/humanio"
	"github.com/MagClaw/MagClaw/internal/provider"
	"github.com/MagClaw/MagClaw/internal/trace"
)

// Baseline is an action's static approval classification.
type Baseline string

const (
	BaselineAlways Baseline = "always"
	BaselineNever  Baseline = "never"
	BaselineMaybe  Baseline = "maybe"
)

// Guess is the caller's own cheap guess for a maybe-classified action.
type Guess string

const (
	GuessAlways Guess = "always"
	GuessNever  Guess = "never"
)

// Policy is the gate-wide approval policy.
type Policy string

const (
	PolicyAlways           Policy = "always"
	PolicyNever            Policy = "never"
	PolicyAutoConservative Policy = "auto-conservative"
	PolicyAutoPermissive   Policy = "auto-permissive"
)

// ParsePolicy validates a policy string from config.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.TrimSpace(s)) {
	case PolicyAlways:
		return PolicyAlways, nil
	case PolicyNever:
		return PolicyNever, nil
	case PolicyAutoConservative:
		return PolicyAutoConservative, nil
	case PolicyAutoPermissive:
		return PolicyAutoPermissive, nil
	default:
		return "", fmt.Errorf("unknown approval policy %q", s)
	}
}

// contextWindow is how many trailing context messages the deliberative
// oracle question sees.
const contextWindow = 5

// Gate classifies actions and obtains human decisions.
type Gate struct {
	Policy  Policy
	Oracle  provider.Oracle // consulted for ambiguous actions; may be nil
	Human   humanio.Channel
	Journal *trace.Service // best-effort record keeping; may be nil
	RunID   string
	Model   string
	// Default is the decision when a human reply is unrecognized.
	Default bool
	Timeout time.Duration
}

// RequiresApproval resolves whether an action needs human sign-off.
//
// The override table is deliberately asymmetric: a policy of always or
// never forces the outcome regardless of the action's baseline, an
// always/never baseline otherwise stands regardless of policy, and only
// a maybe baseline consults the guess or the oracle. Oracle failure
// resolves toward asking, not toward silent action.
func (g *Gate) RequiresApproval(ctx context.Context, baseline Baseline, guess Guess, history []provider.Message) bool {
	switch g.Policy {
	case PolicyAlways:
		return true
	case PolicyNever:
		return false
	}

	switch baseline {
	case BaselineAlways:
		return true
	case BaselineNever:
		return false
	}

	// baseline == maybe
	if g.Policy == PolicyAutoPermissive {
		return guess == GuessAlways
	}
	return g.deliberate(ctx, history)
}

// deliberate asks the oracle a yes/no reversibility question over the
// recent context. Any failure means "ask the human".
func (g *Gate) deliberate(ctx context.Context, history []provider.Message) bool {
	if g.Oracle == nil {
		return true
	}
	if len(history) > contextWindow {
		history = history[len(history)-contextWindow:]
	}
	msgs := make([]provider.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, provider.Message{
		Role: "user",
		Content: "Considering the conversation above, is the proposed next action " +
			"irreversible or likely to have consequences outside this session " +
			"(sending messages, purchases, deleting data, changing remote state)? " +
			"Answer with a single word: yes or no.",
	})

	resp, err := g.Oracle.Create(ctx, &provider.Request{
		Messages:  msgs,
		Model:     g.Model,
		MaxTokens: 8,
	})
	if err != nil {
		slog.Warn("Approval deliberation failed, requiring approval", "error", err)
		return true
	}
	switch strings.ToLower(strings.Trim(strings.TrimSpace(resp.Content), ".!")) {
	case "no":
		return false
	case "yes":
		return true
	default:
		return true
	}
}

// Decide prompts the human channel and parses the reply. Accepted
// forms: {"accepted": bool} JSON, or a literal accept/yes/y.
// Unrecognized input falls back to the gate default.
func (g *Gate) Decide(ctx context.Context, action string, baseline Baseline, description string) (bool, error) {
	id := newApprovalID()
	if g.Journal != nil {
		_ = g.Journal.InsertApproval(&trace.ApprovalRecord{
			ApprovalID:  id,
			RunID:       g.RunID,
			Action:      action,
			Baseline:    string(baseline),
			Description: description,
		})
	}

	if g.Human == nil {
		status := "denied"
		if g.Default {
			status = "approved"
		}
		if g.Journal != nil {
			_ = g.Journal.UpdateApprovalStatus(id, status)
		}
		return g.Default, nil
	}

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf("Action %q requires approval.\n%s\nReply accept or deny.", action, description)
	reply, err := g.Human.Prompt(ctx, prompt, humanio.Approval)
	if err != nil {
		if g.Journal != nil {
			_ = g.Journal.UpdateApprovalStatus(id, "timeout")
		}
		return false, fmt.Errorf("approval prompt: %w", err)
	}

	accepted := parseDecision(reply, g.Default)
	if g.Journal != nil {
		status := "denied"
		if accepted {
			status = "approved"
		}
		_ = g.Journal.UpdateApprovalStatus(id, status)
	}
	return accepted, nil
}

func parseDecision(reply string, fallback bool) bool {
	trimmed := strings.TrimSpace(reply)
	if strings.HasPrefix(trimmed, "{") {
		var body struct {
			Accepted *bool `json:"accepted"`
		}
		if err := json.Unmarshal([]byte(trimmed), &body); err == nil && body.Accepted != nil {
			return *body.Accepted
		}
		return fallback
	}
	switch strings.ToLower(trimmed) {
	case "accept", "yes", "y":
		return true
	case "deny", "no", "n":
		return false
	default:
		return fallback
	}
}

func newApprovalID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return fmt.Sprintf("appr-%d", time.Now().UnixNano())
}
