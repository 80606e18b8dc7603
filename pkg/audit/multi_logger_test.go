package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

type failingLogger struct{ err error }

func (f failingLogger) Log(ctx context.Context, event *Event) error { return f.err }
func (f failingLogger) Close() error                                { return f.err }

func TestMultiLogger_SyncWrites(t *testing.T) {
	boom := errors.New("disk full")
	first, second := NewMemoryLogger(), NewMemoryLogger()

	multi := NewMultiLogger([]Logger{first, failingLogger{err: boom}, second}, WithSyncWrites())

	err := multi.Log(context.Background(), NewEvent(EventTypeSessionLogout, EventStatusSuccess))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1, "a failing sink does not stop the others")
}

func TestMultiLogger_AsyncWrites(t *testing.T) {
	first, second := NewMemoryLogger(), NewMemoryLogger()
	multi := NewMultiLogger([]Logger{first, second})

	// writes outlive the request that produced them
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, multi.Log(ctx, NewEvent(EventTypeSessionCascade, EventStatusSuccess)))
	}
	cancel()
	multi.Wait()

	assert.Len(t, first.Events(), 5)
	assert.Len(t, second.Events(), 5)
	assert.Empty(t, multi.Errors())
}

func TestMultiLogger_AsyncFailuresAreKept(t *testing.T) {
	boom := errors.New("audit volume read-only")
	var buf bytes.Buffer
	multi := NewMultiLogger([]Logger{failingLogger{err: boom}, NewMemoryLogger()},
		WithErrorLogger(observability.NewLogger(observability.InfoLevel, &buf)))

	require.NoError(t, multi.Log(context.Background(), NewEvent(EventTypeSessionLogin, EventStatusSuccess)))
	multi.Wait()

	errs := multi.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
	assert.Empty(t, multi.Errors(), "errors are handed out once")
	assert.Contains(t, buf.String(), "audit write failed")
	assert.Contains(t, buf.String(), "session.login")
}

func TestMultiLogger_Empty(t *testing.T) {
	multi := NewMultiLogger(nil)
	require.NoError(t, multi.Log(context.Background(), NewEvent(EventTypeSessionLogin, EventStatusSuccess)))
	assert.NoError(t, multi.Close())
}

func TestMultiLogger_CloseWaitsAndJoins(t *testing.T) {
	mem := NewMemoryLogger()
	multi := NewMultiLogger([]Logger{mem, failingLogger{err: errors.New("close failed")}})

	_ = multi.Log(context.Background(), NewEvent(EventTypeSessionInvalidated, EventStatusSuccess))
	err := multi.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close audit sink")
	assert.Len(t, mem.Events(), 1, "pending writes land before close returns")
}

func TestLogLogger(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogLogger(observability.NewLogger(observability.InfoLevel, &buf))

	ev := NewEvent(EventTypeSessionCascade, EventStatusSuccess).
		WithApp("orders", "leaf").
		WithAccount("alice-oid", "alice@example.com").
		WithMessage("probe_interaction_required")
	ev.Origin = "http://orders.local"
	require.NoError(t, sink.Log(context.Background(), ev))
	require.NoError(t, sink.Close())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "audit: probe_interaction_required", entry["msg"])
	assert.Equal(t, "session.cascade", entry["event_type"])
	assert.Equal(t, "orders", entry["app"])
	assert.Equal(t, "alice-oid", entry["account_id"])
	assert.Equal(t, "http://orders.local", entry["origin"])
	assert.Equal(t, ev.ID, entry["audit_id"])
	assert.NotContains(t, entry, "request_id")
}
