package rollout

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/abhisek/tutorpolicy/internal/reward"
)

// ActionAuto lets the tutor policy choose the action for a slot.
const ActionAuto = "auto"

// DefaultActions is the action cycle used when none is configured.
var DefaultActions = []string{"explain", "ask", "hint", "reflect", "worked_example", "review"}

// CandidateModel pins the model, and optionally the action, of one slot.
type CandidateModel struct {
	Action string `yaml:"action" validate:"omitempty,oneof=explain ask hint reflect worked_example review auto"`
	Model  string `yaml:"model"`
}

// Config controls a rollout run.
type Config struct {
	Actions    []string `yaml:"actions" validate:"min=1,dive,oneof=explain ask hint reflect worked_example review auto"`
	Candidates int      `yaml:"candidates" validate:"gte=1,lte=32"`
	PromptSet  string   `yaml:"prompt_set"`
	MockMode   bool     `yaml:"mock"`

	// Seed fixes mock generation. When nil a seed is picked at start and
	// recorded with every preference record.
	Seed *int64 `yaml:"seed"`

	// Parallelism caps concurrent candidate generations per situation;
	// zero means one worker per candidate.
	Parallelism int `yaml:"parallelism" validate:"gte=0"`

	ModelPerCandidate []CandidateModel `yaml:"model_per_candidate" validate:"dive"`
	CriticModel       string           `yaml:"critic_model"`

	Reward reward.Config `yaml:"reward"`
}

// DefaultConfig returns the standard rollout settings.
func DefaultConfig() Config {
	return Config{
		Actions:    append([]string(nil), DefaultActions...),
		Candidates: 4,
		Reward:     reward.DefaultConfig(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the rollout settings and the embedded reward config.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("rollout config: %w", err)
	}
	return c.Reward.Validate()
}

// LoadConfig overlays the YAML file at path on base. Maps in base are
// merged key by key; lists are replaced.
func LoadConfig(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read rollout config: %w", err)
	}
	cfg := base
	cfg.Reward.Weights = cloneWeights(base.Reward.Weights)
	cfg.Reward.Thresholds = cloneWeights(base.Reward.Thresholds)
	cfg.Reward.StepWeights = cloneWeights(base.Reward.StepWeights)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse rollout config %s: %w", path, err)
	}
	for i, a := range cfg.Actions {
		cfg.Actions[i] = strings.ToLower(strings.TrimSpace(a))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseActions splits a comma-separated action list.
func ParseActions(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if a := strings.ToLower(strings.TrimSpace(part)); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// slot resolves the action and model of candidate i.
func (c Config) slot(i int) (action, model string) {
	action = c.Actions[i%len(c.Actions)]
	if i < len(c.ModelPerCandidate) {
		m := c.ModelPerCandidate[i]
		model = m.Model
		if m.Action != "" {
			action = m.Action
		}
	}
	return action, model
}

func cloneWeights(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
