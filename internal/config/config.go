// Package config provides configuration types and loading for magclaw.
package config

// Config is the root configuration struct.
// Top-level groups: Paths, Model, Providers, Orchestrator, Approval, Trace.
type Config struct {
	Paths        PathsConfig        `json:"paths"`
	Model        ModelConfig        `json:"model"`
	Providers    ProvidersConfig    `json:"providers"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Approval     ApprovalConfig     `json:"approval"`
	Human        HumanConfig        `json:"human"`
	Trace        TraceConfig        `json:"trace"`
}

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	Workspace string `json:"workspace" envconfig:"WORKSPACE"`
	StateDir  string `json:"stateDir" envconfig:"STATE_DIR"`
}

// ModelConfig groups model and oracle-call settings.
type ModelConfig struct {
	Name        string  `json:"name" envconfig:"MODEL"`
	MaxTokens   int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature float64 `json:"temperature" envconfig:"TEMPERATURE"`
}

// ProvidersConfig contains model provider configurations.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
}

// ProviderConfig contains settings for a single provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// OrchestratorConfig groups the plan/execute state machine knobs.
type OrchestratorConfig struct {
	MaxRounds      int  `json:"maxRounds" envconfig:"MAX_ROUNDS"`
	MaxReplans     int  `json:"maxReplans" envconfig:"MAX_REPLANS"`
	MaxJSONRetries int  `json:"maxJsonRetries" envconfig:"MAX_JSON_RETRIES"`
	Cooperative    bool `json:"cooperative" envconfig:"COOPERATIVE"`
	AllowFollowUp  bool `json:"allowFollowUp" envconfig:"ALLOW_FOLLOW_UP"`
	EnableNoOp     bool `json:"enableNoop" envconfig:"ENABLE_NOOP"`
	TimeoutSeconds int  `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
}

// ApprovalConfig groups approval gate settings.
// Policy is one of: always, never, auto-conservative, auto-permissive.
type ApprovalConfig struct {
	Policy         string `json:"policy" envconfig:"POLICY"`
	TimeoutSeconds int    `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
}

// HumanConfig selects and configures the human channel backend.
// Backend is one of: console, slack, none.
type HumanConfig struct {
	Backend      string `json:"backend" envconfig:"BACKEND"`
	SlackToken   string `json:"slackToken,omitempty" envconfig:"SLACK_TOKEN"`
	SlackAppTok  string `json:"slackAppToken,omitempty" envconfig:"SLACK_APP_TOKEN"`
	SlackChannel string `json:"slackChannel,omitempty" envconfig:"SLACK_CHANNEL"`
}

// TraceConfig groups run-journal and checkpoint streaming settings.
type TraceConfig struct {
	DBPath       string   `json:"dbPath" envconfig:"DB_PATH"`
	KafkaEnabled bool     `json:"kafkaEnabled" envconfig:"KAFKA_ENABLED"`
	KafkaBrokers []string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	KafkaPrefix  string   `json:"kafkaPrefix" envconfig:"KAFKA_PREFIX"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name:        "gpt-4o",
			MaxTokens:   4096,
			Temperature: 0.2,
		},
		Orchestrator: OrchestratorConfig{
			MaxRounds:      20,
			MaxReplans:     3,
			MaxJSONRetries: 3,
			Cooperative:    true,
			AllowFollowUp:  true,
			EnableNoOp:     true,
		},
		Approval: ApprovalConfig{
			Policy:         "auto-conservative",
			TimeoutSeconds: 60,
		},
		Human: HumanConfig{
			Backend: "console",
		},
		Trace: TraceConfig{
			KafkaPrefix: "magclaw",
		},
	}
}
