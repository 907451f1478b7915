package reward

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Component names, in scoring order.
const (
	NameStepwise  = "stepwise_rubric"
	NameRubric    = "rubric"
	NameIntent    = "intent"
	NameGating    = "gating"
	NameGrounding = "grounding"
	NameStyle     = "style"
)

// Names lists every component in the order it is scored and reported.
var Names = []string{NameStepwise, NameRubric, NameIntent, NameGating, NameGrounding, NameStyle}

// Step names of the stepwise rubric.
const (
	StepUnderstand = "understand_student"
	StepPedagogy   = "select_pedagogy"
	StepRetrieve   = "retrieve_content"
	StepStructure  = "structure_response"
	StepOutput     = "generate_output"
	StepFormative  = "formative_check"
)

// Steps lists the stepwise rubric steps in evaluation order.
var Steps = []string{StepUnderstand, StepPedagogy, StepRetrieve, StepStructure, StepOutput, StepFormative}

// Config holds every tunable of the reward engine.
type Config struct {
	BannedPhrases     []string `yaml:"banned_phrases"`
	SuggestionMarkers []string `yaml:"suggestion_markers"`
	ExampleMarkers    []string `yaml:"example_markers"`
	ReasoningMarkers  []string `yaml:"reasoning_markers"`
	DirectMarkers     []string `yaml:"direct_answer_markers"`

	MinWords            int     `yaml:"min_words" validate:"gte=1"`
	MaxWords            int     `yaml:"max_words" validate:"gtfield=MinWords"`
	AdvancedTermPenalty float64 `yaml:"advanced_term_penalty" validate:"gte=0,lte=1"`

	Weights    map[string]float64 `yaml:"weights" validate:"dive,keys,oneof=stepwise_rubric rubric intent gating grounding style,endkeys,gte=0"`
	Thresholds map[string]float64 `yaml:"thresholds" validate:"dive,keys,oneof=stepwise_rubric rubric intent gating grounding style,endkeys,gte=0,lte=1"`

	// Stepwise adds the stepwise rubric to the total. ExportStepScores
	// reports it without weighting it.
	Stepwise         bool               `yaml:"stepwise"`
	ExportStepScores bool               `yaml:"export_step_scores"`
	StepWeights      map[string]float64 `yaml:"step_weights" validate:"dive,keys,oneof=understand_student select_pedagogy retrieve_content structure_response generate_output formative_check,endkeys,numeric"`
}

// DefaultConfig returns the standard reward tuning.
func DefaultConfig() Config {
	return Config{
		BannedPhrases:     []string{"as an ai language model", "i am an ai"},
		SuggestionMarkers: []string{"try", "consider", "can you", "let's", "what about"},
		ExampleMarkers:    []string{"for example", "for instance", "such as", "e.g."},
		ReasoningMarkers:  []string{"because", "therefore", "so that", "as a result"},
		DirectMarkers:     []string{"is", "are", "means", "refers", "defines"},

		MinWords:            30,
		MaxWords:            220,
		AdvancedTermPenalty: 0.4,

		Weights: map[string]float64{
			NameStepwise:  0.0,
			NameRubric:    0.4,
			NameIntent:    0.2,
			NameGating:    0.2,
			NameGrounding: 0.15,
			NameStyle:     0.05,
		},
		Thresholds: map[string]float64{
			NameStepwise:  0.6,
			NameRubric:    0.6,
			NameIntent:    0.6,
			NameGating:    0.7,
			NameGrounding: 0.65,
			NameStyle:     0.5,
		},
		StepWeights: map[string]float64{
			StepUnderstand: 0.15,
			StepPedagogy:   0.25,
			StepRetrieve:   0.20,
			StepStructure:  0.20,
			StepOutput:     0.15,
			StepFormative:  0.05,
		},
	}
}

// ConfigFromEnv overlays TUTOR_RL_* and TUTOR_STEP_WEIGHT_* variables on
// the defaults. List variables are comma separated.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	setList := func(dst *[]string, key string) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
	setFloat := func(m map[string]float64, name, key string) {
		if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
			m[name] = f
		}
	}
	setBool := func(dst *bool, key string) {
		if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
			*dst = b
		}
	}

	setList(&cfg.BannedPhrases, "TUTOR_RL_BANNED_PHRASES")
	setList(&cfg.SuggestionMarkers, "TUTOR_RL_SUGGESTION_MARKERS")
	setList(&cfg.ExampleMarkers, "TUTOR_RL_EXAMPLE_MARKERS")
	setList(&cfg.ReasoningMarkers, "TUTOR_RL_REASONING_MARKERS")
	setList(&cfg.DirectMarkers, "TUTOR_RL_DIRECT_MARKERS")

	if n, err := strconv.Atoi(os.Getenv("TUTOR_RL_MIN_WORDS")); err == nil {
		cfg.MinWords = n
	}
	if n, err := strconv.Atoi(os.Getenv("TUTOR_RL_MAX_WORDS")); err == nil {
		cfg.MaxWords = n
	}
	if f, err := strconv.ParseFloat(os.Getenv("TUTOR_RL_ADVANCED_TERM_PENALTY"), 64); err == nil {
		cfg.AdvancedTermPenalty = f
	}

	suffix := map[string]string{
		NameStepwise:  "STEPWISE",
		NameRubric:    "RUBRIC",
		NameIntent:    "INTENT",
		NameGating:    "GATING",
		NameGrounding: "GROUNDING",
		NameStyle:     "STYLE",
	}
	for name, s := range suffix {
		setFloat(cfg.Weights, name, "TUTOR_RL_W_"+s)
		setFloat(cfg.Thresholds, name, "TUTOR_RL_T_"+s)
	}

	steps := map[string]string{
		StepUnderstand: "UNDERSTAND",
		StepPedagogy:   "PEDAGOGY",
		StepRetrieve:   "RETRIEVAL",
		StepStructure:  "STRUCTURE",
		StepOutput:     "OUTPUT",
		StepFormative:  "FORMATIVE",
	}
	for name, s := range steps {
		setFloat(cfg.StepWeights, name, "TUTOR_STEP_WEIGHT_"+s)
	}

	setBool(&cfg.Stepwise, "TUTOR_RL_STEPWISE_ENABLED")
	setBool(&cfg.ExportStepScores, "TUTOR_RL_EXPORT_STEP_SCORES")
	return cfg
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks ranges and that at least one scored component carries
// weight.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("reward config: %w", err)
	}
	var sum float64
	for _, name := range c.active() {
		sum += c.Weights[name]
	}
	if sum <= 0 {
		return errors.New("reward config: active component weights sum to zero")
	}
	return nil
}

// active returns the components that contribute to the total.
func (c Config) active() []string {
	if c.Stepwise {
		return Names
	}
	return Names[1:]
}

// reported returns the components that are computed and reported.
func (c Config) reported() []string {
	if c.Stepwise || c.ExportStepScores {
		return Names
	}
	return Names[1:]
}

// normalizedStepWeights clamps negative step weights to zero and scales
// the rest to sum to one. All-zero weights become uniform.
func (c Config) normalizedStepWeights() map[string]float64 {
	out := make(map[string]float64, len(Steps))
	var sum float64
	for _, s := range Steps {
		w := c.StepWeights[s]
		if w < 0 {
			w = 0
		}
		out[s] = w
		sum += w
	}
	for _, s := range Steps {
		if sum > 0 {
			out[s] /= sum
		} else {
			out[s] = 1 / float64(len(Steps))
		}
	}
	return out
}
