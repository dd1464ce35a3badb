package catalogs_test

import (
	"os"
	"path/filepath"
	"testing"

	"vigilkeep.gg/internal/sim/catalogs"
)

func writeConfigs(t *testing.T, attacks, items string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "attacks.yaml"), []byte(attacks), 0o644); err != nil {
		t.Fatalf("write attacks: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "items.yaml"), []byte(items), 0o644); err != nil {
		t.Fatalf("write items: %v", err)
	}
	return dir
}

const goodAttacks = `attacks:
  - id: LIGHTNING
    name: Lightning
    cost: 80
    cooldown_s: 1.5
    damage: 3
    target_type: POINT
    max_range_m: 20
  - id: SHIELD
    name: Shield
    cost: 20
    cooldown_s: 5
    damage: 0
    target_type: SELF
    max_range_m: 0
`

const goodItems = `items:
  - id: RELIC_CANDLE
    name: Candle
    kind: RELIC
  - id: TOOL_LANTERN
    name: Lantern
    kind: TOOL
`

func TestLoad(t *testing.T) {
	dir := writeConfigs(t, goodAttacks, goodItems)
	c, err := catalogs.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a, ok := c.Attacks.ByID["LIGHTNING"]
	if !ok {
		t.Fatalf("LIGHTNING missing")
	}
	if a.Cost != 80 || a.CooldownS != 1.5 || a.TargetType != catalogs.TargetPoint {
		t.Fatalf("attack = %+v", a)
	}
	if _, ok := c.Items.ByID["TOOL_LANTERN"]; !ok {
		t.Fatalf("TOOL_LANTERN missing")
	}
}

func TestLoadRejectsDuplicateAttack(t *testing.T) {
	dup := goodAttacks + `  - id: LIGHTNING
    name: Again
    cost: 1
    cooldown_s: 0
    damage: 0
    target_type: POINT
    max_range_m: 1
`
	dir := writeConfigs(t, dup, goodItems)
	if _, err := catalogs.Load(dir); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestLoadRejectsUnknownTargetType(t *testing.T) {
	bad := `attacks:
  - id: WEIRD
    name: Weird
    cost: 1
    cooldown_s: 0
    damage: 0
    target_type: BEAM
    max_range_m: 1
`
	dir := writeConfigs(t, bad, goodItems)
	if _, err := catalogs.Load(dir); err == nil {
		t.Fatalf("expected target_type error")
	}
}

func TestLoadRejectsNegativeCost(t *testing.T) {
	bad := `attacks:
  - id: CHEAP
    name: Cheap
    cost: -5
    cooldown_s: 0
    damage: 0
    target_type: POINT
    max_range_m: 1
`
	dir := writeConfigs(t, bad, goodItems)
	if _, err := catalogs.Load(dir); err == nil {
		t.Fatalf("expected negative cost error")
	}
}

func TestLoadMissingFiles(t *testing.T) {
	if _, err := catalogs.Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for missing catalog files")
	}
}
