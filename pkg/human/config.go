// Package human simulates human input timing: eased mouse paths, typing
// cadence with occasional pauses and typos, and idle browsing.
package human

import "time"

// Speed presets scale every delay produced by a Simulator.
const (
	SpeedFast   = "fast"
	SpeedNormal = "normal"
	SpeedSlow   = "slow"
)

// Config holds the timing ranges used by the simulator.
type Config struct {
	// Enabled switches simulated input on for click and type operations.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	MouseSteps   int           `mapstructure:"mouse_steps" yaml:"mouse_steps" json:"mouse_steps" validate:"gte=1,lte=500"`
	StepDelayMin time.Duration `mapstructure:"step_delay_min" yaml:"step_delay_min" json:"step_delay_min" validate:"gte=0"`
	StepDelayMax time.Duration `mapstructure:"step_delay_max" yaml:"step_delay_max" json:"step_delay_max" validate:"gtefield=StepDelayMin"`

	TypeDelayMin time.Duration `mapstructure:"type_delay_min" yaml:"type_delay_min" json:"type_delay_min" validate:"gte=0"`
	TypeDelayMax time.Duration `mapstructure:"type_delay_max" yaml:"type_delay_max" json:"type_delay_max" validate:"gtefield=TypeDelayMin"`

	// ThinkProbability is the chance of an extra pause between two characters.
	ThinkProbability float64       `mapstructure:"think_probability" yaml:"think_probability" json:"think_probability" validate:"gte=0,lte=1"`
	ThinkMin         time.Duration `mapstructure:"think_min" yaml:"think_min" json:"think_min" validate:"gte=0"`
	ThinkMax         time.Duration `mapstructure:"think_max" yaml:"think_max" json:"think_max" validate:"gtefield=ThinkMin"`

	// TypoProbability is the chance per letter of typing a neighbouring key
	// first and correcting it with backspace.
	TypoProbability float64 `mapstructure:"typo_probability" yaml:"typo_probability" json:"typo_probability" validate:"gte=0,lte=1"`

	Speed string `mapstructure:"speed" yaml:"speed" json:"speed" validate:"omitempty,oneof=fast normal slow"`

	// IdleMaxActions bounds the moves and scrolls made by one Idle call.
	IdleMaxActions int `mapstructure:"idle_max_actions" yaml:"idle_max_actions" json:"idle_max_actions" validate:"gte=0"`
}

// DefaultConfig returns the default timing ranges.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		MouseSteps:       20,
		StepDelayMin:     5 * time.Millisecond,
		StepDelayMax:     20 * time.Millisecond,
		TypeDelayMin:     50 * time.Millisecond,
		TypeDelayMax:     150 * time.Millisecond,
		ThinkProbability: 0.1,
		ThinkMin:         300 * time.Millisecond,
		ThinkMax:         time.Second,
		TypoProbability:  0,
		Speed:            SpeedNormal,
		IdleMaxActions:   8,
	}
}

// SpeedMultiplier returns the factor applied to every delay.
func (c Config) SpeedMultiplier() float64 {
	switch c.Speed {
	case SpeedFast:
		return 0.5
	case SpeedSlow:
		return 1.5
	default:
		return 1.0
	}
}
