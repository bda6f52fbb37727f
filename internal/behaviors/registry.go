package behaviors

import (
	"fmt"

	"github.com/cortexuvula/wsserver/internal/wsserver"
)

// registry maps the behavior names usable in a config file's services:
// list to their factories.
var registry = map[string]wsserver.BehaviorFactory{
	"echo":  NewEcho,
	"room":  NewRoom,
	"clock": NewClock,
}

// Lookup resolves name to a BehaviorFactory, for wiring a config-declared
// service path to one of the built-in demonstration Behaviors.
func Lookup(name string) (wsserver.BehaviorFactory, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("behaviors: unknown behavior %q (known: echo, room, clock)", name)
	}
	return factory, nil
}

// Names returns every registered behavior name, for help text and the
// setup wizard.
func Names() []string {
	return []string{"echo", "room", "clock"}
}
