package webapp

import (
	"context"
	"net/url"
	"sync"

	"github.com/platinummonkey/ssosync/pkg/navigation"
)

// responseNavigator is the navigation.Navigator of one request. History
// replacement and page loads both end up as the single redirect of the
// response.
type responseNavigator struct {
	mu       sync.Mutex
	location *url.URL
	moved    bool
}

var _ navigation.Navigator = (*responseNavigator)(nil)

func newResponseNavigator(location *url.URL) *responseNavigator {
	u := *location
	return &responseNavigator{location: &u}
}

func (n *responseNavigator) Location() *url.URL {
	n.mu.Lock()
	defer n.mu.Unlock()
	u := *n.location
	return &u
}

func (n *responseNavigator) Assign(ctx context.Context, target string) error {
	return n.move(ctx, target)
}

func (n *responseNavigator) Replace(ctx context.Context, target string) error {
	return n.move(ctx, target)
}

// Reload re-requests the current, possibly replaced, location
func (n *responseNavigator) Reload(ctx context.Context) error {
	return n.move(ctx, "")
}

func (n *responseNavigator) move(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	next, err := n.location.Parse(target)
	if err != nil {
		return err
	}
	n.location = next
	n.moved = true
	return nil
}

// Redirect returns where the response has to send the browser, if anywhere
func (n *responseNavigator) Redirect() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.moved {
		return "", false
	}
	return n.location.String(), true
}
