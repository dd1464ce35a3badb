package authority

import "vigilkeep.gg/internal/protocol"

// TickOnce runs one step of the passive mutation schedule. Scheduled
// changes (faith drain, the day/night clock) are self-issued commands and
// go through the same apply path as observer commands, so versioning and
// single-writer discipline hold for them too. Owner goroutine only.
func (s *Store) TickOnce() {
	s.tick++

	if s.drainPerTick > 0 {
		for _, id := range s.sortedEntityIDs() {
			e := s.entities[id]
			if !e.active() || e.Kind != KindPlayer {
				continue
			}
			// Rejected when faith is exhausted; routine, not logged.
			_ = s.apply(CmdEnvelope{Cmd: protocol.CmdMsg{
				EntityID: e.ID,
				Kind:     KindFaithDrain,
			}})
		}
	}

	if s.tick%s.clockEveryTicks == 0 {
		_ = s.apply(CmdEnvelope{Cmd: protocol.CmdMsg{
			EntityID: s.clockID,
			Kind:     KindClockAdvance,
		}})
	}
}

// Tick returns the current passive-schedule tick.
func (s *Store) Tick() uint64 { return s.tick }
