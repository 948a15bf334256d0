// Package integrity defines the exam integrity event taxonomy shared by the
// exam client and the server, and the server-side counter store.
package integrity

import (
	"github.com/pkg/errors"
)

// EventType names one kind of integrity signal. The set is closed.
type EventType string

const (
	TabChanges      EventType = "tabChanges"
	MouseOuts       EventType = "mouseOuts"
	FullscreenExits EventType = "fullscreenExits"
	CopyAttempts    EventType = "copyAttempts"
	PasteAttempts   EventType = "pasteAttempts"
	FocusChanges    EventType = "focusChanges"
	PageRefresh     EventType = "pageRefresh"
)

var (
	ErrUnknownEventType = errors.New("unknown integrity event type")
	ErrNotRecordable    = errors.New("integrity event type is not recorded by the server")
)

// All lists every event type in a stable order.
var All = []EventType{
	TabChanges, MouseOuts, FullscreenExits, CopyAttempts, PasteAttempts, FocusChanges, PageRefresh,
}

func ParseEventType(s string) (EventType, error) {
	for _, ev := range All {
		if string(ev) == s {
			return ev, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownEventType, "%q", s)
}

// Recordable reports whether the server keeps a counter for the event.
// pageRefresh is sent by clients but has no column.
func (e EventType) Recordable() bool {
	return e.Column() != ""
}

// CountsTowardTotal reports whether the event adds to a client's total
// violation count. Copy and paste are tracked but never escalate.
func (e EventType) CountsTowardTotal() bool {
	switch e {
	case CopyAttempts, PasteAttempts:
		return false
	case TabChanges, MouseOuts, FullscreenExits, FocusChanges, PageRefresh:
		return true
	}
	return false
}

// Column is the integrity_records counter column for the event, or "".
func (e EventType) Column() string {
	switch e {
	case TabChanges:
		return "tab_changes"
	case MouseOuts:
		return "mouse_outs"
	case FullscreenExits:
		return "fullscreen_exits"
	case CopyAttempts:
		return "copy_attempts"
	case PasteAttempts:
		return "paste_attempts"
	case FocusChanges:
		return "focus_changes"
	case PageRefresh:
		return ""
	}
	return ""
}

func (e EventType) String() string { return string(e) }
