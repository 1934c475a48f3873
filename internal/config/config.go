package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"taskdesk/internal/domain"
)

const (
	DelayModeQueue    = "queue"
	DelayModeAdvisory = "advisory"

	MessagingLog     = "log"
	MessagingWebhook = "webhook"
)

// Config models taskdesk.yml.
type Config struct {
	Audit     AuditConfig                 `yaml:"audit"`
	Resolver  ResolverConfig              `yaml:"resolver"`
	Actions   ActionsConfig               `yaml:"actions"`
	Messaging MessagingConfig             `yaml:"messaging"`
	Workflows []domain.WorkflowDefinition `yaml:"workflows"`
}

type AuditConfig struct {
	MaxChars           int `yaml:"max_chars"`
	KeepLines          int `yaml:"keep_lines"`
	EmergencyKeepLines int `yaml:"emergency_keep_lines"`
}

type ResolverConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	DeletionVariants    bool    `yaml:"deletion_variants"`
}

type ActionsConfig struct {
	DelayMode           string `yaml:"delay_mode"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	MaxAttempts         int    `yaml:"max_attempts"`
}

type MessagingConfig struct {
	Mode           string `yaml:"mode"`
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with td config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Audit.MaxChars <= 0 {
		return fmt.Errorf("config.audit.max_chars must be positive")
	}
	if c.Audit.KeepLines <= 0 {
		return fmt.Errorf("config.audit.keep_lines must be positive")
	}
	if c.Audit.EmergencyKeepLines <= 0 || c.Audit.EmergencyKeepLines > c.Audit.KeepLines {
		return fmt.Errorf("config.audit.emergency_keep_lines must be between 1 and keep_lines")
	}
	if c.Resolver.SimilarityThreshold <= 0 || c.Resolver.SimilarityThreshold >= 1 {
		return fmt.Errorf("config.resolver.similarity_threshold must be in (0,1)")
	}
	switch c.Actions.DelayMode {
	case DelayModeQueue, DelayModeAdvisory:
	default:
		return fmt.Errorf("config.actions.delay_mode must be %q or %q", DelayModeQueue, DelayModeAdvisory)
	}
	if c.Actions.PollIntervalSeconds <= 0 {
		return fmt.Errorf("config.actions.poll_interval_seconds must be positive")
	}
	if c.Actions.MaxAttempts <= 0 {
		return fmt.Errorf("config.actions.max_attempts must be positive")
	}
	switch c.Messaging.Mode {
	case MessagingLog:
	case MessagingWebhook:
		if strings.TrimSpace(c.Messaging.URL) == "" {
			return fmt.Errorf("config.messaging.url is required in webhook mode")
		}
	default:
		return fmt.Errorf("config.messaging.mode must be %q or %q", MessagingLog, MessagingWebhook)
	}
	seen := map[string]bool{}
	for i, wf := range c.Workflows {
		if wf.ID == "" {
			return fmt.Errorf("config.workflows[%d].id is required", i)
		}
		if seen[wf.ID] {
			return fmt.Errorf("config.workflows has duplicate id %s", wf.ID)
		}
		seen[wf.ID] = true
		if wf.Trigger == "" {
			return fmt.Errorf("workflow %s has empty trigger", wf.ID)
		}
		if wf.Actions == nil {
			return fmt.Errorf("workflow %s has no actions", wf.ID)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskdesk.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Sections left out of the
// document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Workflows = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// WorkflowsFromYAML parses a bare list of workflow definitions, as accepted by
// td workflow import.
func WorkflowsFromYAML(data []byte) ([]domain.WorkflowDefinition, error) {
	var defs []domain.WorkflowDefinition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("invalid workflow yaml: %w", err)
	}
	probe := Default()
	probe.Workflows = defs
	if err := probe.Validate(); err != nil {
		return nil, err
	}
	return defs, nil
}

const defaultTemplate = `audit:
  max_chars: 45000
  keep_lines: 150
  emergency_keep_lines: 100

resolver:
  similarity_threshold: 0.7
  deletion_variants: true

actions:
  delay_mode: queue
  poll_interval_seconds: 60
  max_attempts: 3

messaging:
  mode: log
  timeout_seconds: 10

workflows:
  - id: wf-assign-on-create
    name: Notify assignee of new task
    trigger: task-created
    active: true
    conditions:
      task.status: not_started
    actions:
      - type: send_assignment
      - type: add_log
        message: Assignment notice sent

  - id: wf-urgent-followup
    name: Follow up on urgent work
    trigger: task-created
    active: true
    conditions:
      task.priority:
        operator: in
        value: [high, urgent]
    actions:
      - type: send_followup
        delay_hours: 24

  - id: wf-escalate-blocked
    name: Escalate blocked tasks
    trigger: status-changed
    active: true
    conditions:
      new_status: on_hold
    actions:
      - type: escalate
      - type: update_priority
        priority: high

  - id: wf-reply-completed
    name: Close out on completion reply
    trigger: reply-classified
    active: true
    conditions:
      reply.category: completion
    actions:
      - type: update_status
        status: pending_approval
      - type: add_log
        message: Completion reported, awaiting approval
`
