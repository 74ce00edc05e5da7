// File: internal/config/humanoid_config.go
// This file defines the HumanoidConfig struct, which contains the tunable
// parameters for the humanized interaction simulation. These settings control
// the models that generate realistic user behavior: mouse movement physics,
// cognitive delays, typing cadence, and error simulation.
//
// The configuration is designed to be loaded from a file using Viper, allowing
// the driver's "personality" and skill level to be customized without
// changing the core code.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// HumanoidConfig exposes the user-tunable knobs of the humanized input
// driver. The driver derives its full per-session behavioral profile from
// these values plus a session seed.
type HumanoidConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Seed fixes the behavioral RNG for reproducible sessions. Zero means
	// derive from entropy.
	Seed int64 `mapstructure:"seed" yaml:"seed"`

	// Typing cadence. Inter-keystroke delays are drawn from
	// [KeyDelayMinMs, KeyDelayMaxMs] and then shaped by the cadence model.
	KeyDelayMinMs int `mapstructure:"key_delay_min_ms" yaml:"key_delay_min_ms"`
	KeyDelayMaxMs int `mapstructure:"key_delay_max_ms" yaml:"key_delay_max_ms"`
	// KeyHoldMu is the mean key press-to-release time in milliseconds.
	KeyHoldMu float64 `mapstructure:"key_hold_mu" yaml:"key_hold_mu"`
	// TypoRate is the per-character probability of injecting a corrected typo.
	TypoRate float64 `mapstructure:"typo_rate" yaml:"typo_rate"`

	// Click timing. The press-to-release interval is drawn from
	// [ClickHoldMinMs, ClickHoldMaxMs].
	ClickHoldMinMs int `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`

	// Pointer path shaping.
	MoveSpeed       float64 `mapstructure:"move_speed" yaml:"move_speed"`
	JitterAmplitude float64 `mapstructure:"jitter_amplitude" yaml:"jitter_amplitude"`
	OvershootChance float64 `mapstructure:"overshoot_chance" yaml:"overshoot_chance"`

	// Fatigue slowly degrades precision and speed over a long session.
	FatigueEnabled bool `mapstructure:"fatigue_enabled" yaml:"fatigue_enabled"`
}

// setHumanoidDefaults registers the humanoid defaults on the given viper.
// Values approximate a competent touch typist on familiar hardware.
func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.seed", 0)
	v.SetDefault("browser.humanoid.key_delay_min_ms", 45)
	v.SetDefault("browser.humanoid.key_delay_max_ms", 220)
	v.SetDefault("browser.humanoid.key_hold_mu", 62.0)
	v.SetDefault("browser.humanoid.typo_rate", 0.04)
	v.SetDefault("browser.humanoid.click_hold_min_ms", 40)
	v.SetDefault("browser.humanoid.click_hold_max_ms", 140)
	v.SetDefault("browser.humanoid.move_speed", 1.0)
	v.SetDefault("browser.humanoid.jitter_amplitude", 1.6)
	v.SetDefault("browser.humanoid.overshoot_chance", 0.12)
	v.SetDefault("browser.humanoid.fatigue_enabled", true)
}

// ApplyDefaults fills the zero value with the same defaults viper would
// supply. Used by callers that construct the config directly, mostly tests.
func (h *HumanoidConfig) ApplyDefaults() {
	h.Enabled = true
	h.KeyDelayMinMs = 45
	h.KeyDelayMaxMs = 220
	h.KeyHoldMu = 62.0
	h.TypoRate = 0.04
	h.ClickHoldMinMs = 40
	h.ClickHoldMaxMs = 140
	h.MoveSpeed = 1.0
	h.JitterAmplitude = 1.6
	h.OvershootChance = 0.12
	h.FatigueEnabled = true
}

// Validate rejects configurations the cadence model cannot sample from.
func (h *HumanoidConfig) Validate() error {
	if !h.Enabled {
		return nil
	}
	if h.KeyDelayMinMs < 0 || h.KeyDelayMaxMs < h.KeyDelayMinMs {
		return fmt.Errorf("key delay bounds invalid: min=%d max=%d", h.KeyDelayMinMs, h.KeyDelayMaxMs)
	}
	if h.ClickHoldMinMs < 0 || h.ClickHoldMaxMs < h.ClickHoldMinMs {
		return fmt.Errorf("click hold bounds invalid: min=%d max=%d", h.ClickHoldMinMs, h.ClickHoldMaxMs)
	}
	if h.TypoRate < 0 || h.TypoRate > 0.5 {
		return fmt.Errorf("typo_rate must be in [0, 0.5], got %v", h.TypoRate)
	}
	if h.OvershootChance < 0 || h.OvershootChance > 1 {
		return fmt.Errorf("overshoot_chance must be in [0, 1], got %v", h.OvershootChance)
	}
	if h.MoveSpeed <= 0 {
		return fmt.Errorf("move_speed must be positive")
	}
	return nil
}
