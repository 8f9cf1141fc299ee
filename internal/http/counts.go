package http

import (
	"github.com/fyrsmithlabs/councild/internal/services"
)

// CountFromRegistry counts agents, definitions, running ceremonies and
// archive entries.
//
// ArchiveEntries is -1 when the archive is disabled.
func CountFromRegistry(reg services.Registry) StatusCounts {
	counts := StatusCounts{ArchiveEntries: -1}
	if reg == nil {
		return counts
	}

	if c := reg.Council(); c != nil {
		counts.Agents = len(c.Agents())
	}
	if o := reg.Ceremonies(); o != nil {
		counts.Definitions = len(o.Definitions())
		counts.ActiveCeremonies = len(o.ActiveInstances())
	}
	if a := reg.Archive(); a != nil {
		counts.ArchiveEntries = a.Len()
	}
	return counts
}

func serviceStates(reg services.Registry) map[string]string {
	state := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "disabled"
	}
	return map[string]string{
		"bus":        state(reg.Bus() != nil),
		"ceremonies": state(reg.Ceremonies() != nil),
		"council":    state(reg.Council() != nil),
		"field":      state(reg.Field() != nil),
		"scheduler":  state(reg.Scheduler() != nil),
		"archive":    state(reg.Archive() != nil),
		"inbox":      state(reg.Inbox() != nil),
	}
}
