package wsserver

import "testing"

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Ready:        "ready",
		Start:        "start",
		ShuttingDown: "shutting_down",
		Stop:         "stop",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestStateMonotonicOrder(t *testing.T) {
	// Lifecycle comparisons rely on declaration order.
	if !(Ready < Start && Start < ShuttingDown && ShuttingDown < Stop) {
		t.Fatal("State constants are not in Ready < Start < ShuttingDown < Stop order")
	}
}
