package monitor

// Event is a typed signal from the exam environment. Raw browser or terminal
// input is translated into one of these before reaching the monitor.
type Event interface {
	event()
}

// TabHidden: the exam page became hidden.
type TabHidden struct{}

// FocusLost: the exam window lost focus. DocumentHidden is true when the page
// was already hidden at that moment.
type FocusLost struct {
	DocumentHidden bool
}

// MouseOut carries the pointer position relative to a W x H viewport.
type MouseOut struct {
	X, Y int
	W, H int
}

type FullscreenChanged struct {
	Active bool
}

type CopyAttempted struct{}

type PasteAttempted struct{}

type Resized struct {
	InnerHeight  int
	ScreenHeight int
}

type Clicked struct{}

func (TabHidden) event()         {}
func (FocusLost) event()         {}
func (MouseOut) event()          {}
func (FullscreenChanged) event() {}
func (CopyAttempted) event()     {}
func (PasteAttempted) event()    {}
func (Resized) event()           {}
func (Clicked) event()           {}

// outside reports whether the pointer left the viewport.
func (e MouseOut) outside() bool {
	return e.X < 0 || e.X > e.W-1 || e.Y < 0 || e.Y > e.H-1
}
