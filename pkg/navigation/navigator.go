// Package navigation models the browser boundary of an app instance: its
// current location, history replacement and page navigation.
package navigation

import (
	"context"
	"errors"
	"net/url"
	"sync"
)

// ErrNavigatedAway is returned by a Tab once it has left the page
var ErrNavigatedAway = errors.New("navigation already issued")

// Navigator is the location/history surface of one app instance.
//
// Assign and Reload leave the current page; Replace only rewrites the
// current history entry.
type Navigator interface {
	Location() *url.URL
	Assign(ctx context.Context, target string) error
	Replace(ctx context.Context, target string) error
	Reload(ctx context.Context) error
}

// Kind of a recorded navigation
type Kind string

const (
	KindAssign  Kind = "assign"
	KindReplace Kind = "replace"
	KindReload  Kind = "reload"
)

// Navigation is one recorded call on a Tab
type Navigation struct {
	Kind   Kind
	Target string
}

// Tab is an in-memory Navigator that records every call. It is the
// in-process host used by tests and the simulator.
type Tab struct {
	mu       sync.Mutex
	location *url.URL
	history  []Navigation
}

// NewTab opens a tab at rawURL
func NewTab(rawURL string) (*Tab, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Tab{location: u}, nil
}

// MustTab is NewTab for literals
func MustTab(rawURL string) *Tab {
	t, err := NewTab(rawURL)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Tab) Location() *url.URL {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := *t.location
	return &u
}

func (t *Tab) Assign(ctx context.Context, target string) error {
	return t.record(ctx, KindAssign, target)
}

func (t *Tab) Replace(ctx context.Context, target string) error {
	return t.record(ctx, KindReplace, target)
}

func (t *Tab) Reload(ctx context.Context) error {
	return t.record(ctx, KindReload, "")
}

func (t *Tab) record(ctx context.Context, kind Kind, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if kind == KindReload {
		target = t.location.String()
	}
	next, err := t.location.Parse(target)
	if err != nil {
		return err
	}
	t.history = append(t.history, Navigation{Kind: kind, Target: next.String()})
	t.location = next
	return nil
}

// History returns a copy of every recorded call
func (t *Tab) History() []Navigation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Navigation, len(t.history))
	copy(out, t.history)
	return out
}

// NavigationsAway counts the calls that left the page (Assign and Reload)
func (t *Tab) NavigationsAway() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, nav := range t.history {
		if nav.Kind != KindReplace {
			n++
		}
	}
	return n
}

// Last returns the most recent call, or false when none was made
func (t *Tab) Last() (Navigation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return Navigation{}, false
	}
	return t.history[len(t.history)-1], true
}
