// Package events defines the platform's webhook event vocabulary and the
// matching rules between an emitted event and a subscription's event set.
package events

import "sort"

// Wildcard subscribes to every event in the vocabulary.
const Wildcard = "*"

// TestPing is the synthetic event used by the manual test path. It is sent
// regardless of a subscription's event set and cannot be subscribed to.
const TestPing = "test.ping"

var known = map[string]struct{}{
	"emergency.created":     {},
	"emergency.resolved":    {},
	"ticket.created":        {},
	"ticket.updated":        {},
	"ticket.closed":         {},
	"maintenance.scheduled": {},
	"maintenance.overdue":   {},
	"maintenance.completed": {},
	"checklist.completed":   {},
	"document.uploaded":     {},
	"user.invited":          {},
}

// Known reports whether name is part of the platform vocabulary or the
// wildcard. TestPing is reserved for the manual test path and is not
// registerable.
func Known(name string) bool {
	if name == Wildcard {
		return true
	}
	_, ok := known[name]
	return ok
}

// Names returns the vocabulary in sorted order.
func Names() []string {
	names := make([]string, 0, len(known))
	for name := range known {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Matches reports whether a subscription with the given event set should
// receive event. An empty set matches nothing.
func Matches(subscribed []string, event string) bool {
	for _, s := range subscribed {
		if s == event || s == Wildcard {
			return true
		}
	}
	return false
}
