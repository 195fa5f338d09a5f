package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config holds the agent server's configuration fields, registered as flags
// and filled from WARDEN_-prefixed environment variables.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	ClaudeAPIKey string
	ClaudeModel  string

	OpsMCPURL   string
	OpsMCPToken string

	DatabaseURL          string
	RedisURL             string
	CheckpointTTLSeconds int

	SlackWebhookURL string
	ConsoleBaseURL  string

	MaxSteps            int
	MaxModelCalls       int
	MaxToolCalls        int
	ConfidenceThreshold float64
	MaxClarifications   int
	MaxInputLength      int
	BlockOnPII          bool
	AutoApprove         bool

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on all API requests")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.OpsMCPURL, "ops-mcp-url", "", "URL of the ops MCP server the engine collects evidence from")
	fs.StringVar(&c.OpsMCPToken, "ops-mcp-token", "", "bearer token for the ops MCP server")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for run state (empty = in-memory store)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for suspended-run checkpoints (empty = in-memory store)")
	fs.IntVar(&c.CheckpointTTLSeconds, "checkpoint-ttl-seconds", 86400, "seconds a suspended run stays resumable (60..604800)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for run notifications")
	fs.StringVar(&c.ConsoleBaseURL, "console-base-url", "", "monitoring console base URL for incident/case links")
	fs.IntVar(&c.MaxSteps, "max-steps", 8, "max workflow steps per run (1..100)")
	fs.IntVar(&c.MaxModelCalls, "max-model-calls", 5, "max LLM calls per run (1..100)")
	fs.IntVar(&c.MaxToolCalls, "max-tool-calls", 6, "max tool calls per run (1..100)")
	fs.Float64Var(&c.ConfidenceThreshold, "confidence-threshold", 0.7, "minimum confidence before a run escalates (0..1]")
	fs.IntVar(&c.MaxClarifications, "max-clarifications", 2, "max clarification round-trips per run (1..10)")
	fs.IntVar(&c.MaxInputLength, "max-input-length", 10000, "max accepted input size in bytes (1..1000000)")
	fs.BoolVar(&c.BlockOnPII, "block-on-pii", false, "reject inputs containing PII instead of logging and redacting")
	fs.BoolVar(&c.AutoApprove, "auto-approve", false, "resolve approval suspensions immediately (dev only)")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the quality judge (empty = quality scoring disabled)")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "base URL for an OpenAI-compatible quality judge endpoint")
	fs.StringVar(&c.OpenAIModel, "openai-model", "gpt-4o-mini", "model for the quality judge")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// API token is required: the triage API can open incidents
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	// Claude credentials are required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	// The engine cannot collect evidence without the ops MCP server
	if c.OpsMCPURL == "" {
		errs = append(errs, errors.New("OPS_MCP_URL is required"))
	}

	if c.CheckpointTTLSeconds < 60 || c.CheckpointTTLSeconds > 604800 {
		errs = append(errs, fmt.Errorf("invalid CHECKPOINT_TTL_SECONDS %d (must be 60..604800)", c.CheckpointTTLSeconds))
	}

	// Governance ceilings
	if c.MaxSteps <= 0 || c.MaxSteps > 100 {
		errs = append(errs, fmt.Errorf("invalid MAX_STEPS %d (must be 1..100)", c.MaxSteps))
	}
	if c.MaxModelCalls <= 0 || c.MaxModelCalls > 100 {
		errs = append(errs, fmt.Errorf("invalid MAX_MODEL_CALLS %d (must be 1..100)", c.MaxModelCalls))
	}
	if c.MaxToolCalls <= 0 || c.MaxToolCalls > 100 {
		errs = append(errs, fmt.Errorf("invalid MAX_TOOL_CALLS %d (must be 1..100)", c.MaxToolCalls))
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid CONFIDENCE_THRESHOLD %g (must be in (0..1])", c.ConfidenceThreshold))
	}
	if c.MaxClarifications <= 0 || c.MaxClarifications > 10 {
		errs = append(errs, fmt.Errorf("invalid MAX_CLARIFICATIONS %d (must be 1..10)", c.MaxClarifications))
	}
	if c.MaxInputLength <= 0 || c.MaxInputLength > 1000000 {
		errs = append(errs, fmt.Errorf("invalid MAX_INPUT_LENGTH %d (must be 1..1000000)", c.MaxInputLength))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// OpsConfig holds the ops MCP server's configuration fields.
type OpsConfig struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	HTTPPort              int
	MCPToken              string

	PrometheusEndpoint string
	PrometheusTenantID string
	LokiEndpoint       string
	LokiTenantID       string
	TempoEndpoint      string
	TempoTenantID      string

	ConsoleBaseURL  string
	RegistryBaseURL string
}

// RegisterFlags binds OpsConfig fields to the given FlagSet with defaults inline
func (c *OpsConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.HTTPPort, "http-port", 8081, "MCP listen TCP port (1..65535)")
	fs.StringVar(&c.MCPToken, "mcp-token", "", "bearer token required on all MCP requests")
	fs.StringVar(&c.PrometheusEndpoint, "prometheus-endpoint", "", "Prometheus endpoint for the get_metrics tool")
	fs.StringVar(&c.PrometheusTenantID, "prometheus-tenant-id", "", "Prometheus tenant ID for multi-tenant setups")
	fs.StringVar(&c.LokiEndpoint, "loki-endpoint", "", "Loki endpoint for the get_logs tool")
	fs.StringVar(&c.LokiTenantID, "loki-tenant-id", "", "Loki tenant ID for multi-tenant setups")
	fs.StringVar(&c.TempoEndpoint, "tempo-endpoint", "", "Tempo endpoint for the list_spans and get_trace tools")
	fs.StringVar(&c.TempoTenantID, "tempo-tenant-id", "", "Tempo tenant ID for multi-tenant setups")
	fs.StringVar(&c.ConsoleBaseURL, "console-base-url", "", "monitoring console base URL for deep links in tool results")
	fs.StringVar(&c.RegistryBaseURL, "registry-base-url", "", "base URL for incident/case record URLs")
}

// Validate checks all configuration fields for correctness.
func (c *OpsConfig) Validate() error {
	var errs []error

	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}

	if c.MCPToken == "" {
		errs = append(errs, errors.New("MCP_TOKEN is required"))
	}

	// All three datasources back required tools
	if c.PrometheusEndpoint == "" {
		errs = append(errs, errors.New("PROMETHEUS_ENDPOINT is required"))
	}
	if c.LokiEndpoint == "" {
		errs = append(errs, errors.New("LOKI_ENDPOINT is required"))
	}
	if c.TempoEndpoint == "" {
		errs = append(errs, errors.New("TEMPO_ENDPOINT is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
