package planner

import (
	"context"
	"fmt"
)

type twinIDKey struct{}

// WithTwinID attaches the twin id driving this dispatch to ctx, so a
// builtin handler several calls deep (e.g. command_exec reaching into
// the sandbox executor) can recover which twin it is acting on behalf
// of without widening BuiltinHandler's signature.
func WithTwinID(ctx context.Context, twinID string) context.Context {
	return context.WithValue(ctx, twinIDKey{}, twinID)
}

// TwinIDFromContext returns the twin id set by WithTwinID, or "" if none.
func TwinIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(twinIDKey{}).(string)
	return id
}

// ToolAuthorizer decides whether a tool call may run immediately or must
// be gated behind human approval.
type ToolAuthorizer interface {
	RequiresApproval(toolName string) bool
}

// MemoryAuthorizer decides whether a memory-exchange request may proceed
// immediately.
type MemoryAuthorizer interface {
	RequiresApproval(namespace, topic string) bool
}

// Dispatcher routes a planned Action to its handler: builtins for tool
// actions, the pending store for anything gated, a placeholder builtin
// registration for build_tool, and plain pass-through for
// answer/self_improve.
type Dispatcher struct {
	builtins    *Builtins
	pending     *PendingStore
	toolAuth    ToolAuthorizer
	memoryAuth  MemoryAuthorizer
}

func NewDispatcher(builtins *Builtins, pending *PendingStore, toolAuth ToolAuthorizer, memoryAuth MemoryAuthorizer) *Dispatcher {
	return &Dispatcher{builtins: builtins, pending: pending, toolAuth: toolAuth, memoryAuth: memoryAuth}
}

// Outcome is what happened when an Action was dispatched.
type Outcome struct {
	Tag    string
	Result string
	Err    error
}

// Dispatch executes a, gating tool/memory actions that require approval
// by writing them to the pending store and returning immediately with no
// tag (the caller surfaces an approval prompt instead).
func (d *Dispatcher) Dispatch(ctx context.Context, key PendingKey, action Action) Outcome {
	switch action.Kind {
	case ActionAnswer:
		return Outcome{Result: action.Answer.Text}

	case ActionTool:
		if _, ok := d.builtins.Lookup(action.Tool.Name); !ok {
			return Outcome{Tag: TagToolUnsupported, Err: fmt.Errorf("planner: %q is not a supported tool", action.Tool.Name)}
		}
		ctx = WithTwinID(ctx, key.TwinID)
		if d.toolAuth != nil && d.toolAuth.RequiresApproval(action.Tool.Name) {
			d.pending.PutTool(PendingToolRequest{Key: key, Tool: *action.Tool})
			return Outcome{}
		}
		return d.runTool(ctx, *action.Tool)

	case ActionMemory:
		if d.memoryAuth != nil && d.memoryAuth.RequiresApproval(action.Memory.Namespace, action.Memory.Topic) {
			d.pending.PutMemory(PendingMemoryRequest{Key: key, Memory: *action.Memory})
			return Outcome{}
		}
		return Outcome{Tag: TagMemoryShown, Result: fmt.Sprintf("namespace=%s topic=%s", action.Memory.Namespace, action.Memory.Topic)}

	case ActionBuildTool:
		d.builtins.Register(action.BuildTool.Name, func(ctx context.Context, args map[string]string) (string, error) {
			return "", fmt.Errorf("planner: built tool %q has no registered implementation yet", action.BuildTool.Name)
		})
		return Outcome{Result: fmt.Sprintf("registered tool %s", action.BuildTool.Name)}

	case ActionSelfImprove:
		return Outcome{Result: action.SelfImprove.Summary}

	default:
		return Outcome{Err: fmt.Errorf("planner: cannot dispatch unknown action kind %q", action.Kind)}
	}
}

func (d *Dispatcher) runTool(ctx context.Context, tool ToolPayload) Outcome {
	handler, ok := d.builtins.Lookup(tool.Name)
	if !ok {
		return Outcome{Tag: TagToolDenied, Err: fmt.Errorf("planner: no builtin registered for tool %q", tool.Name)}
	}
	result, err := handler(ctx, tool.Args)
	if err != nil {
		return Outcome{Tag: TagToolDenied, Err: err}
	}
	return Outcome{Tag: TagToolExecuted, Result: result}
}

// ResolveApproval answers a pending gated action. A key mismatch clears
// the slot without running anything (§4.3's no-TTL, mismatch-clears rule).
func (d *Dispatcher) ResolveApproval(ctx context.Context, key PendingKey, approved bool) Outcome {
	if req, ok := d.pending.ResolveTool(key); ok {
		if !approved {
			return Outcome{Tag: TagToolDenied}
		}
		return d.runTool(WithTwinID(ctx, key.TwinID), req.Tool)
	}
	if req, ok := d.pending.ResolveMemory(key); ok {
		if !approved {
			return Outcome{Tag: TagMemoryDenied}
		}
		return Outcome{Tag: TagMemoryShown, Result: fmt.Sprintf("namespace=%s topic=%s", req.Memory.Namespace, req.Memory.Topic)}
	}
	return Outcome{}
}
