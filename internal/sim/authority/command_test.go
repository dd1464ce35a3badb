package authority

import (
	"testing"
	"time"
)

func TestValidateCommandDispatch(t *testing.T) {
	if err := validateCommandDispatch(); err != nil {
		t.Fatalf("dispatch map invalid: %v", err)
	}
}

func TestDispatchCoversEveryKind(t *testing.T) {
	for _, k := range supportedKinds {
		if commandDispatch[k] == nil {
			t.Fatalf("kind %q has no handler", k)
		}
	}
}

func TestSecondsDur(t *testing.T) {
	if got := secondsDur(1.5); got != 1500*time.Millisecond {
		t.Fatalf("secondsDur(1.5) = %v", got)
	}
	if got := secondsDur(0); got != 0 {
		t.Fatalf("secondsDur(0) = %v", got)
	}
}
