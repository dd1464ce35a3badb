package authoritytest

import (
	"testing"

	"vigilkeep.gg/internal/protocol"
	"vigilkeep.gg/internal/sim/authority"
	"vigilkeep.gg/internal/sim/tuning"
)

func clockState(t *testing.T, h *Harness) (hour, minute int, isPM bool) {
	t.Helper()
	clock := h.Store.ClockID()
	return int(fieldNum(t, h, clock, authority.FieldHour)),
		int(fieldNum(t, h, clock, authority.FieldMinute)),
		fieldBool(t, h, clock, authority.FieldIsPM)
}

func advanceClock(t *testing.T, h *Harness, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		out := h.CmdFor("", h.Store.ClockID(), authority.KindClockAdvance, nil)
		if !out.OK {
			t.Fatalf("clock advance %d rejected: %s %s", i, out.Code, out.Message)
		}
	}
}

func TestClock_StartsAtNinePM(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "watcher")
	hour, minute, isPM := clockState(t, h)
	if hour != 9 || minute != 0 || !isPM {
		t.Fatalf("initial clock: %d:%02d pm=%v", hour, minute, isPM)
	}
}

func TestClock_AdvancesInConfiguredSteps(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "watcher")

	advanceClock(t, h, 1)
	if hour, minute, _ := clockState(t, h); hour != 9 || minute != 15 {
		t.Fatalf("after one step: %d:%02d", hour, minute)
	}
	advanceClock(t, h, 3)
	if hour, minute, _ := clockState(t, h); hour != 10 || minute != 0 {
		t.Fatalf("after four steps: %d:%02d", hour, minute)
	}
}

func TestClock_MinuteOnlyStepEmitsOneDelta(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "watcher")

	out := h.CmdFor("", h.Store.ClockID(), authority.KindClockAdvance, nil)
	if !out.OK {
		t.Fatalf("advance rejected: %s", out.Code)
	}
	if len(out.Deltas) != 1 || out.Deltas[0].Field != authority.FieldMinute {
		t.Fatalf("deltas: %v", out.Deltas)
	}
}

func TestClock_TwelveFlipsMeridiem(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "watcher")

	// 9:00 PM + 12 steps of 15 minutes = 12:00, flipping PM to AM.
	advanceClock(t, h, 12)
	hour, minute, isPM := clockState(t, h)
	if hour != 12 || minute != 0 || isPM {
		t.Fatalf("midnight: %d:%02d pm=%v", hour, minute, isPM)
	}

	// Another hour: 12 wraps to 1 without flipping.
	advanceClock(t, h, 4)
	hour, minute, isPM = clockState(t, h)
	if hour != 1 || minute != 0 || isPM {
		t.Fatalf("one o'clock: %d:%02d pm=%v", hour, minute, isPM)
	}
}

func TestClock_FullDayRoundTrip(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "watcher")

	// 24 hours of 15-minute steps lands back on 9:00 PM.
	advanceClock(t, h, 24*4)
	hour, minute, isPM := clockState(t, h)
	if hour != 9 || minute != 0 || !isPM {
		t.Fatalf("after a day: %d:%02d pm=%v", hour, minute, isPM)
	}
}

func TestClock_ObserverCannotAdvance(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), TestCatalogs(), "watcher")

	out := h.CmdOn(h.Store.ClockID(), authority.KindClockAdvance, nil)
	if out.OK || out.Code != protocol.ErrNoPermission {
		t.Fatalf("observer-issued advance: ok=%v code=%s", out.OK, out.Code)
	}
}

func TestClock_PassiveScheduleAdvances(t *testing.T) {
	tune := tuning.Defaults()
	tune.ClockAdvanceSeconds = 0.2 // two ticks at 10 Hz
	h := NewHarness(t, tune, TestCatalogs(), "watcher")

	h.Tick()
	if _, minute, _ := clockState(t, h); minute != 0 {
		t.Fatalf("clock moved early: minute=%d", minute)
	}
	h.Tick()
	if _, minute, _ := clockState(t, h); minute != 15 {
		t.Fatalf("clock after schedule: minute=%d", minute)
	}
}
