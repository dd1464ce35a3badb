package authority

import (
	"fmt"

	"vigilkeep.gg/internal/protocol"
)

// SeedItem places a world item before the store starts running. Items
// spawned mid-game (drops) go through the command path instead.
func (s *Store) SeedItem(itemID string, pos [3]float64) (string, error) {
	if _, ok := s.cats.Items.ByID[itemID]; !ok {
		return "", fmt.Errorf("seed item: unknown item id %q", itemID)
	}
	e := s.spawn(KindItem, map[string]any{
		FieldItemID:    itemID,
		FieldPos:       []float64{pos[0], pos[1], pos[2]},
		FieldAvailable: true,
	})
	return e.ID, nil
}

// SeedDoor places a door before the store starts running.
func (s *Store) SeedDoor(pos [3]float64) string {
	e := s.spawn(KindDoor, map[string]any{
		FieldPos:  []float64{pos[0], pos[1], pos[2]},
		FieldOpen: false,
	})
	return e.ID
}

// DebugSetPos teleports a player. Test setup helper; owner goroutine only.
func (s *Store) DebugSetPos(entityID string, pos [3]float64) bool {
	e := s.entities[entityID]
	if !e.active() {
		return false
	}
	s.emit([]protocol.DeltaMsg{s.setField(e, FieldPos, []float64{pos[0], pos[1], pos[2]})})
	return true
}

// DebugDespawn force-destroys an entity. Test setup helper.
func (s *Store) DebugDespawn(entityID string) bool {
	e := s.entities[entityID]
	if !e.active() {
		return false
	}
	s.despawn(entityID)
	return true
}
