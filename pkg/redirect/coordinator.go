// Package redirect ensures at most one navigation away per app instance.
//
// A Coordinator belongs to one tab. The first caller to Begin owns the right
// to navigate; everyone after it is told a redirect is already in flight.
// There is no End in the common path since the page is torn down by the
// navigation itself.
//
// A holder that gives the right back without navigating (Release) runs the
// navigation a loser left owed through NavigateOrOwe, so a forced logout
// that lost to a failing login still happens.
package redirect

import (
	"sync"
)

// Coordinator is the single-flight guard for one tab
type Coordinator struct {
	mu         sync.Mutex
	inFlight   bool
	owed       func() error
	onSuppress func()
}

// New creates an idle coordinator. onSuppress, when non-nil, is called for
// every attempt that loses the race.
func New(onSuppress func()) *Coordinator {
	return &Coordinator{onSuppress: onSuppress}
}

// Begin claims the navigation right. Exactly one caller sees true.
func (c *Coordinator) Begin() bool {
	c.mu.Lock()
	won := !c.inFlight
	c.inFlight = true
	c.mu.Unlock()

	if !won {
		c.suppressed()
	}
	return won
}

// InFlight reports whether a navigation has been claimed
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Navigate runs fn only when Begin wins. It reports whether fn ran.
func (c *Coordinator) Navigate(fn func() error) (bool, error) {
	if !c.Begin() {
		return false, nil
	}
	return true, fn()
}

// NavigateOrOwe is Navigate for navigations that must not be lost: when the
// right is held, fn is kept and run by the holder's Release. Only the first
// owed navigation is kept.
func (c *Coordinator) NavigateOrOwe(fn func() error) (bool, error) {
	c.mu.Lock()
	if !c.inFlight {
		c.inFlight = true
		c.mu.Unlock()
		return true, fn()
	}
	if c.owed == nil {
		c.owed = fn
	}
	c.mu.Unlock()

	c.suppressed()
	return false, nil
}

// Release hands the right back. It is for callers that learn after Begin
// that they will not navigate, e.g. a login the provider client rejected.
// When a navigation is owed the right stays claimed and the owed navigation
// runs instead; Release reports whether it ran.
func (c *Coordinator) Release() (bool, error) {
	c.mu.Lock()
	owed := c.owed
	c.owed = nil
	if owed == nil {
		c.inFlight = false
	}
	c.mu.Unlock()

	if owed == nil {
		return false, nil
	}
	return true, owed()
}

func (c *Coordinator) suppressed() {
	if c.onSuppress != nil {
		c.onSuppress()
	}
}
