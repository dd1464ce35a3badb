package catalogs

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Catalogs struct {
	Attacks AttackCatalog
	Items   ItemCatalog
}

type AttackCatalog struct {
	ByID map[string]AttackDef
}

// AttackDef is the static definition of one castable spell/attack.
// Costs and ranges are authoritative; clients only reference the id.
type AttackDef struct {
	ID         string  `yaml:"id" json:"id"`
	Name       string  `yaml:"name" json:"name"`
	Cost       float64 `yaml:"cost" json:"cost"`
	CooldownS  float64 `yaml:"cooldown_s" json:"cooldown_s"`
	Damage     float64 `yaml:"damage" json:"damage"`
	TargetType string  `yaml:"target_type" json:"target_type"` // POINT, AREA, SELF
	MaxRangeM  float64 `yaml:"max_range_m" json:"max_range_m"`
	RadiusM    float64 `yaml:"radius_m,omitempty" json:"radius_m,omitempty"`
}

type ItemCatalog struct {
	ByID map[string]ItemDef
}

type ItemDef struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Kind string `yaml:"kind" json:"kind"` // "MATERIAL","TOOL","RELIC"
}

// Target types.
const (
	TargetPoint = "POINT"
	TargetArea  = "AREA"
	TargetSelf  = "SELF"
)

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadAttacks(filepath.Join(configDir, "attacks.yaml"), &c.Attacks); err != nil {
		return nil, err
	}
	if err := loadItems(filepath.Join(configDir, "items.yaml"), &c.Items); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadAttacks(path string, out *AttackCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file struct {
		Attacks []AttackDef `yaml:"attacks"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("attacks.yaml: %w", err)
	}
	out.ByID = map[string]AttackDef{}
	for _, a := range file.Attacks {
		if a.ID == "" {
			return fmt.Errorf("attacks.yaml: attack with empty id")
		}
		if _, dup := out.ByID[a.ID]; dup {
			return fmt.Errorf("attacks.yaml: duplicate attack id %q", a.ID)
		}
		if a.Cost < 0 || a.CooldownS < 0 || a.MaxRangeM < 0 {
			return fmt.Errorf("attacks.yaml: %s: negative cost/cooldown/range", a.ID)
		}
		switch a.TargetType {
		case TargetPoint, TargetArea, TargetSelf:
		default:
			return fmt.Errorf("attacks.yaml: %s: unknown target_type %q", a.ID, a.TargetType)
		}
		out.ByID[a.ID] = a
	}
	return nil
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file struct {
		Items []ItemDef `yaml:"items"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("items.yaml: %w", err)
	}
	out.ByID = map[string]ItemDef{}
	for _, it := range file.Items {
		if it.ID == "" {
			return fmt.Errorf("items.yaml: item with empty id")
		}
		if _, dup := out.ByID[it.ID]; dup {
			return fmt.Errorf("items.yaml: duplicate item id %q", it.ID)
		}
		out.ByID[it.ID] = it
	}
	return nil
}
