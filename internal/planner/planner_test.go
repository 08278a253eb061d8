package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionDecodesEachKind(t *testing.T) {
	a, err := ParseAction([]byte(`{"kind":"answer","text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionAnswer, a.Kind)
	assert.Equal(t, "hello", a.Answer.Text)

	a, err = ParseAction([]byte(`{"kind":"tool","tool":"command_exec","args":{"command":"ls"}}`))
	require.NoError(t, err)
	assert.Equal(t, ActionTool, a.Kind)
	assert.Equal(t, "command_exec", a.Tool.Name)

	a, err = ParseAction([]byte(`{"kind":"self_improve","new_prompt":"v2","summary":"refine tone"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionSelfImprove, a.Kind)
}

func TestParseActionRejectsUnknownKind(t *testing.T) {
	_, err := ParseAction([]byte(`{"kind":"teleport"}`))
	assert.Error(t, err)
}

func TestParseActionRejectsMalformedJSON(t *testing.T) {
	_, err := ParseAction([]byte(`not json`))
	assert.Error(t, err)
}

func TestSerializeToolArgsSpecialCasesCommandExec(t *testing.T) {
	got := SerializeToolArgs("command_exec", map[string]string{"command": "echo hi"})
	assert.Equal(t, "echo hi", got)
}

func TestSerializeToolArgsSortsKeyValuePairs(t *testing.T) {
	got := SerializeToolArgs("search", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, "a=1 b=2", got)
}

type fixedToolAuth struct{ gate bool }

func (f fixedToolAuth) RequiresApproval(string) bool { return f.gate }

type fixedMemoryAuth struct{ gate bool }

func (f fixedMemoryAuth) RequiresApproval(string, string) bool { return f.gate }

func TestDispatchRunsUngatedToolImmediately(t *testing.T) {
	builtins := NewBuiltins()
	builtins.Register("echo", func(ctx context.Context, args map[string]string) (string, error) {
		return "ran:" + args["msg"], nil
	})
	pending := NewPendingStore()
	d := NewDispatcher(builtins, pending, fixedToolAuth{gate: false}, fixedMemoryAuth{gate: false})

	key := PendingKey{TwinID: "t1", SessionID: "s1", Namespace: "ns"}
	action := Action{Kind: ActionTool, Tool: &ToolPayload{Name: "echo", Args: map[string]string{"msg": "hi"}}}

	out := d.Dispatch(context.Background(), key, action)
	assert.Equal(t, TagToolExecuted, out.Tag)
	assert.Equal(t, "ran:hi", out.Result)
}

func TestDispatchGatesToolBehindApproval(t *testing.T) {
	builtins := NewBuiltins()
	builtins.Register("rm", func(ctx context.Context, args map[string]string) (string, error) {
		return "deleted", nil
	})
	pending := NewPendingStore()
	d := NewDispatcher(builtins, pending, fixedToolAuth{gate: true}, fixedMemoryAuth{gate: false})

	key := PendingKey{TwinID: "t1", SessionID: "s1", Namespace: "ns"}
	action := Action{Kind: ActionTool, Tool: &ToolPayload{Name: "rm"}}

	out := d.Dispatch(context.Background(), key, action)
	assert.Empty(t, out.Tag)

	approved := d.ResolveApproval(context.Background(), key, true)
	assert.Equal(t, TagToolExecuted, approved.Tag)
	assert.Equal(t, "deleted", approved.Result)
}

func TestResolveApprovalDeniedSetsToolDeniedTag(t *testing.T) {
	builtins := NewBuiltins()
	builtins.Register("rm", func(ctx context.Context, args map[string]string) (string, error) {
		return "deleted", nil
	})
	pending := NewPendingStore()
	d := NewDispatcher(builtins, pending, fixedToolAuth{gate: true}, fixedMemoryAuth{gate: false})

	key := PendingKey{TwinID: "t1", SessionID: "s1", Namespace: "ns"}
	d.Dispatch(context.Background(), key, Action{Kind: ActionTool, Tool: &ToolPayload{Name: "rm"}})

	out := d.ResolveApproval(context.Background(), key, false)
	assert.Equal(t, TagToolDenied, out.Tag)
}

func TestDispatchRefusesUnsupportedToolBeforeGating(t *testing.T) {
	builtins := NewBuiltins()
	pending := NewPendingStore()
	d := NewDispatcher(builtins, pending, fixedToolAuth{gate: true}, fixedMemoryAuth{gate: false})

	key := PendingKey{TwinID: "t1", SessionID: "s1", Namespace: "ns"}
	action := Action{Kind: ActionTool, Tool: &ToolPayload{Name: "does_not_exist"}}

	out := d.Dispatch(context.Background(), key, action)
	assert.Equal(t, TagToolUnsupported, out.Tag)
	assert.Error(t, out.Err)

	// An unsupported tool must never reach the pending-approval store.
	_, ok := pending.ResolveTool(key)
	assert.False(t, ok, "unsupported tool should be refused before a pending entry is created")
}

func TestPendingStoreKeyMismatchClearsSlotWithoutResolving(t *testing.T) {
	store := NewPendingStore()
	key := PendingKey{TwinID: "t1", SessionID: "s1", Namespace: "ns"}
	store.PutTool(PendingToolRequest{Key: key, Tool: ToolPayload{Name: "rm"}})

	staleKey := PendingKey{TwinID: "t1", SessionID: "stale-session", Namespace: "ns"}
	_, ok := store.ResolveTool(staleKey)
	assert.False(t, ok, "a session/namespace mismatch for the same twin must not resolve the pending request")

	_, ok = store.ResolveTool(key)
	assert.False(t, ok, "the mismatched resolve attempt must have cleared the slot, so the correct key no longer finds anything pending")
}

func TestIsChannelMessageRelevantAlwaysTrue(t *testing.T) {
	assert.True(t, IsChannelMessageRelevant("#random", "anything at all"))
	assert.True(t, IsChannelMessageRelevant("", ""))
}
