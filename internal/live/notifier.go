package live

import "github.com/ThenChiefGuy/Habibi-Connection/internal/events"

// Notifier is the untyped side of a Manager, so managers of different
// snapshot types can be driven by one change listener.
type Notifier interface {
	Notify(c events.Change)
	ReloadAll()
}

type Fanout []Notifier

func (f Fanout) Notify(c events.Change) {
	for _, n := range f {
		n.Notify(c)
	}
}

func (f Fanout) ReloadAll() {
	for _, n := range f {
		n.ReloadAll()
	}
}
