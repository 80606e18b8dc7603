package navigation

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTab_RecordsNavigations(t *testing.T) {
	ctx := context.Background()
	tab := MustTab("http://localhost:3000/?logout=true&tab=apps")

	require.NoError(t, tab.Replace(ctx, "/?tab=apps"))
	assert.Equal(t, "http://localhost:3000/?tab=apps", tab.Location().String())
	assert.Zero(t, tab.NavigationsAway())

	require.NoError(t, tab.Reload(ctx))
	require.NoError(t, tab.Assign(ctx, "http://localhost:3001/"))
	assert.Equal(t, 2, tab.NavigationsAway())

	last, ok := tab.Last()
	require.True(t, ok)
	assert.Equal(t, Navigation{Kind: KindAssign, Target: "http://localhost:3001/"}, last)

	h := tab.History()
	require.Len(t, h, 3)
	assert.Equal(t, KindReload, h[1].Kind)
	assert.Equal(t, "http://localhost:3000/?tab=apps", h[1].Target)
}

func TestTab_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tab := MustTab("http://localhost:3000/")
	assert.Error(t, tab.Assign(ctx, "/x"))
	assert.Empty(t, tab.History())
}

func TestTab_LocationIsCopy(t *testing.T) {
	tab := MustTab("http://localhost:3000/")
	loc := tab.Location()
	loc.Path = "/changed"
	assert.Equal(t, "/", tab.Location().Path)
}

func TestURLHelpers(t *testing.T) {
	signal, err := WithParam("http://localhost:3000/?tab=apps", "logout", "true")
	require.NoError(t, err)
	u, err := url.Parse(signal)
	require.NoError(t, err)
	assert.True(t, HasParam(u, "logout", "true"))
	assert.Equal(t, "apps", u.Query().Get("tab"))

	stripped := WithoutParam(u, "logout")
	assert.False(t, HasParam(stripped, "logout", "true"))
	assert.Equal(t, "http://localhost:3000/?tab=apps", stripped.String())
	assert.True(t, HasParam(u, "logout", "true"), "input must not be modified")

	assert.False(t, HasParam(nil, "logout", "true"))
	assert.Equal(t, "http://localhost:3000", Origin(u))

	_, err = WithParam("://bad", "k", "v")
	assert.Error(t, err)
}
