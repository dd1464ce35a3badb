package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`

	// Player resources.
	FaithMax            float64 `yaml:"faith_max"`
	FaithDrainPerSecond float64 `yaml:"faith_drain_per_second"`
	HealthMax           float64 `yaml:"health_max"`

	// Interaction.
	PickupRangeM      float64 `yaml:"pickup_range_m"`
	InteractRangeM    float64 `yaml:"interact_range_m"`
	InventoryCapacity int     `yaml:"inventory_capacity"`

	// Day/night clock.
	ClockAdvanceSeconds    float64 `yaml:"clock_advance_seconds"`
	ClockMinutesPerAdvance int     `yaml:"clock_minutes_per_advance"`

	// Observer resync.
	ResyncMaxAttempts int `yaml:"resync_max_attempts"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:        "1.0",
		TickRateHz:             10,
		FaithMax:               100,
		FaithDrainPerSecond:    0.005,
		HealthMax:              6,
		PickupRangeM:           5,
		InteractRangeM:         3,
		InventoryCapacity:      5,
		ClockAdvanceSeconds:    95,
		ClockMinutesPerAdvance: 15,
		ResyncMaxAttempts:      3,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive, got %d", t.TickRateHz)
	}
	if t.FaithMax <= 0 {
		return fmt.Errorf("faith_max must be positive, got %v", t.FaithMax)
	}
	if t.InventoryCapacity < 0 {
		return fmt.Errorf("inventory_capacity must be non-negative, got %d", t.InventoryCapacity)
	}
	if t.ClockMinutesPerAdvance <= 0 || t.ClockMinutesPerAdvance >= 60 {
		return fmt.Errorf("clock_minutes_per_advance must be in (0,60), got %d", t.ClockMinutesPerAdvance)
	}
	if 60%t.ClockMinutesPerAdvance != 0 {
		return fmt.Errorf("clock_minutes_per_advance must divide 60, got %d", t.ClockMinutesPerAdvance)
	}
	return nil
}
