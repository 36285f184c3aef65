// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package builtin_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmax-dev/funmax/internal/store"
	"github.com/funmax-dev/funmax/internal/tool"
	"github.com/funmax-dev/funmax/internal/tool/builtin"
)

type recordedSignal struct {
	sessionID  string
	signalType string
	params     json.RawMessage
}

type fakeSignaller struct {
	signals []recordedSignal
	err     error
}

func (f *fakeSignaller) SignalCompletion(_ context.Context, sessionID, signalType string, params json.RawMessage) error {
	if f.err != nil {
		return f.err
	}
	f.signals = append(f.signals, recordedSignal{sessionID, signalType, params})
	return nil
}

func inv(name, args string) tool.Invocation {
	return tool.Invocation{
		SessionID: "sess-1",
		MessageID: "msg-1",
		Call:      store.ToolCall{ID: "call-1", Name: name, Arguments: args},
	}
}

func TestCompleteTool_SignalsCompletion(t *testing.T) {
	sig := &fakeSignaller{}
	ct := builtin.NewCompleteTool(sig)

	out := ct.Execute(context.Background(), inv("complete", `{"summary":"all done"}`))
	assert.True(t, out.Result.Success)
	assert.False(t, out.Pending)

	require.Len(t, sig.signals, 1)
	assert.Equal(t, "sess-1", sig.signals[0].sessionID)
	assert.Equal(t, "complete", sig.signals[0].signalType)
	assert.Contains(t, string(sig.signals[0].params), "all done")
}

func TestCompleteTool_MalformedArgumentsStillCompletes(t *testing.T) {
	sig := &fakeSignaller{}
	ct := builtin.NewCompleteTool(sig)

	out := ct.Execute(context.Background(), inv("complete", `not json`))
	assert.True(t, out.Result.Success)
	require.Len(t, sig.signals, 1)
}

func TestCompleteTool_SignallerFailureIsFailedResult(t *testing.T) {
	sig := &fakeSignaller{err: assert.AnError}
	ct := builtin.NewCompleteTool(sig)

	out := ct.Execute(context.Background(), inv("complete", `{"summary":"x"}`))
	assert.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Error, "completion signal")
}

func TestCompleteTool_RegistersCleanly(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, r.Register(builtin.NewCompleteTool(&fakeSignaller{})))
	require.NoError(t, r.Register(builtin.NewClockTool()))
	require.NoError(t, r.Register(builtin.NewWebSearchTool()))
	assert.Equal(t, []string{"clock", "complete", "web_search"}, r.List())
}

func TestClockTool(t *testing.T) {
	ct := builtin.NewClockTool()
	fixed := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	ct.SetNowFunc(func() time.Time { return fixed })

	out := ct.Execute(context.Background(), inv("clock", `{}`))
	require.True(t, out.Result.Success)

	var data map[string]string
	require.NoError(t, json.Unmarshal(out.Result.Data, &data))
	assert.Equal(t, "2026-03-14T15:09:26Z", data["time"])
	assert.Equal(t, "UTC", data["timezone"])
	assert.Equal(t, "Saturday", data["weekday"])
}

func TestClockTool_UnknownTimezone(t *testing.T) {
	ct := builtin.NewClockTool()

	out := ct.Execute(context.Background(), inv("clock", `{"timezone":"Mars/Olympus"}`))
	assert.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Error, "unknown timezone")
}

func TestWebSearchTool_ReturnsPending(t *testing.T) {
	ws := builtin.NewWebSearchTool()

	out := ws.Execute(context.Background(), inv("web_search", `{"query":"go generics"}`))
	assert.True(t, out.Pending)
	assert.Equal(t, "call-1", out.Result.ToolCallID)
}

func TestWebSearchTool_RejectsBadArgsLocally(t *testing.T) {
	ws := builtin.NewWebSearchTool()

	out := ws.Execute(context.Background(), inv("web_search", `{}`))
	assert.False(t, out.Pending)
	assert.False(t, out.Result.Success)

	out = ws.Execute(context.Background(), inv("web_search", `not json`))
	assert.False(t, out.Pending)
	assert.False(t, out.Result.Success)
}
