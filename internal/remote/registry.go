package remote

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	logx "campd/pkg/logx"
)

// Factory builds a driver from its config settings bag.
type Factory func(settings map[string]string, log logx.Logger) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]Factory{}
)

// Register makes a driver available by name. Typically called from init().
func Register(name string, f Factory) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || f == nil {
		panic("remote: Register with empty name or nil factory")
	}
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[name]; dup {
		panic("remote: Register called twice for driver " + name)
	}
	drivers[name] = f
}

// Open builds the named driver. An empty name selects "loopback".
func Open(name string, settings map[string]string, log logx.Logger) (Driver, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "loopback"
	}
	driversMu.RLock()
	f, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown remote driver %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return f(settings, log)
}

// Names lists registered drivers, sorted.
func Names() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	out := make([]string, 0, len(drivers))
	for n := range drivers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
