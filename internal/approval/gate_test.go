package approval

import (
	"context"
	"errors"
	"testing"

	"github.com/MagClaw/MagClaw/internal/humanio"
	"github.com/MagClaw/MagClaw/internal/provider"
)

// scriptedOracle returns canned responses in order.
type scriptedOracle struct {
	responses []string
	err       error
	calls     int
}

func (s *scriptedOracle) Create(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &provider.Response{Content: ""}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return &provider.Response{Content: resp}, nil
}

func (s *scriptedOracle) DefaultModel() string { return "test-model" }

func TestRequiresApprovalTable(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name     string
		policy   Policy
		baseline Baseline
		guess    Guess
		oracle   *scriptedOracle
		want     bool
	}{
		{"policy always overrides never baseline", PolicyAlways, BaselineNever, GuessNever, nil, true},
		{"policy never overrides always baseline", PolicyNever, BaselineAlways, GuessAlways, nil, false},
		{"always baseline stands under conservative", PolicyAutoConservative, BaselineAlways, GuessNever, nil, true},
		{"never baseline stands under conservative", PolicyAutoConservative, BaselineNever, GuessAlways, nil, false},
		{"always baseline stands under permissive", PolicyAutoPermissive, BaselineAlways, GuessNever, nil, true},
		{"never baseline stands under permissive", PolicyAutoPermissive, BaselineNever, GuessAlways, nil, false},
		{"permissive maybe follows guess always", PolicyAutoPermissive, BaselineMaybe, GuessAlways, nil, true},
		{"permissive maybe follows guess never", PolicyAutoPermissive, BaselineMaybe, GuessNever, nil, false},
		{"conservative maybe asks oracle, no", PolicyAutoConservative, BaselineMaybe, GuessNever, &scriptedOracle{responses: []string{"no"}}, false},
		{"conservative maybe asks oracle, yes", PolicyAutoConservative, BaselineMaybe, GuessNever, &scriptedOracle{responses: []string{"yes"}}, true},
		{"conservative maybe oracle failure asks human", PolicyAutoConservative, BaselineMaybe, GuessNever, &scriptedOracle{err: errors.New("down")}, true},
		{"conservative maybe garbled oracle asks human", PolicyAutoConservative, BaselineMaybe, GuessNever, &scriptedOracle{responses: []string{"perhaps"}}, true},
		{"conservative maybe without oracle asks human", PolicyAutoConservative, BaselineMaybe, GuessNever, nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &Gate{Policy: tc.policy}
			if tc.oracle != nil {
				g.Oracle = tc.oracle
			}
			got := g.RequiresApproval(ctx, tc.baseline, tc.guess, nil)
			if got != tc.want {
				t.Errorf("RequiresApproval = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBaselineNeverNeverPrompts(t *testing.T) {
	ctx := context.Background()
	for _, policy := range []Policy{PolicyNever, PolicyAutoConservative, PolicyAutoPermissive} {
		oracle := &scriptedOracle{responses: []string{"yes"}}
		g := &Gate{Policy: policy, Oracle: oracle}
		if g.RequiresApproval(ctx, BaselineNever, GuessAlways, nil) {
			t.Errorf("policy %s: never baseline required approval", policy)
		}
		if oracle.calls != 0 {
			t.Errorf("policy %s: oracle consulted for never baseline", policy)
		}
	}
}

func TestDecideParsesReplies(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		reply    string
		fallback bool
		want     bool
	}{
		{"accept", false, true},
		{"yes", false, true},
		{"y", false, true},
		{"deny", true, false},
		{"no", true, false},
		{`{"accepted": true}`, false, true},
		{`{"accepted": false}`, true, false},
		{"whatever", false, false},
		{"whatever", true, true},
	}
	for _, tc := range cases {
		human := humanio.NewAuto(tc.reply)
		g := &Gate{Policy: PolicyAlways, Human: human, Default: tc.fallback}
		got, err := g.Decide(ctx, "exec", BaselineAlways, "run ls")
		if err != nil {
			t.Fatalf("reply %q: %v", tc.reply, err)
		}
		if got != tc.want {
			t.Errorf("reply %q fallback %v: got %v, want %v", tc.reply, tc.fallback, got, tc.want)
		}
	}
}

func TestDecideWithoutHumanUsesDefault(t *testing.T) {
	g := &Gate{Policy: PolicyAlways, Default: false}
	got, err := g.Decide(context.Background(), "exec", BaselineAlways, "run ls")
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Error("expected default denial without a human channel")
	}
}

func TestParsePolicy(t *testing.T) {
	for _, valid := range []string{"always", "never", "auto-conservative", "auto-permissive"} {
		if _, err := ParsePolicy(valid); err != nil {
			t.Errorf("ParsePolicy(%q): %v", valid, err)
		}
	}
	if _, err := ParsePolicy("sometimes"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
