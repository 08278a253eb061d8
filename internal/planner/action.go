// Package planner decides what a mesh node does in response to an
// incoming message: answer directly, surface a memory, run a tool,
// build a new tool, or rewrite its own prompt (§4.3). Tool and memory
// actions that touch sensitive state go through a human-gated pending
// slot before they execute, grounded on the teacher's approval-checker
// pending/decide pattern.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ActionKind is the planner's sum type tag.
type ActionKind string

const (
	ActionAnswer      ActionKind = "answer"
	ActionMemory      ActionKind = "memory"
	ActionTool        ActionKind = "tool"
	ActionBuildTool   ActionKind = "build_tool"
	ActionSelfImprove ActionKind = "self_improve"
)

// Control tags emitted back to the caller to short-circuit further
// planning once a gated action resolves.
const (
	TagToolExecuted     = "[TOOL_EXECUTED]"
	TagToolDenied       = "[TOOL_DENIED]"
	TagToolUnsupported  = "[TOOL_UNSUPPORTED]"
	TagMemoryShown      = "[MEMORY_SHOWN]"
	TagMemoryDenied     = "[MEMORY_DENIED]"
)

// Action is the planner's decision for one turn. Exactly one of the
// *Payload fields is populated, selected by Kind.
type Action struct {
	Kind ActionKind

	Answer      *AnswerPayload
	Memory      *MemoryPayload
	Tool        *ToolPayload
	BuildTool   *BuildToolPayload
	SelfImprove *SelfImprovePayload
}

type AnswerPayload struct {
	Text string `json:"text"`
}

type MemoryPayload struct {
	Namespace string `json:"namespace"`
	Topic     string `json:"topic"`
}

type ToolPayload struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args"`
}

type BuildToolPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

type SelfImprovePayload struct {
	NewPrompt string `json:"new_prompt"`
	Summary   string `json:"summary"`
}

// rawAction is the wire shape an LLM is asked to emit.
type rawAction struct {
	Kind        string            `json:"kind"`
	Text        string            `json:"text,omitempty"`
	Namespace   string            `json:"namespace,omitempty"`
	Topic       string            `json:"topic,omitempty"`
	Tool        string            `json:"tool,omitempty"`
	Args        map[string]string `json:"args,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Source      string            `json:"source,omitempty"`
	NewPrompt   string            `json:"new_prompt,omitempty"`
	Summary     string            `json:"summary,omitempty"`
}

const actionSchemaJSON = `{
  "type": "object",
  "required": ["kind"],
  "properties": {
    "kind": {"type": "string", "enum": ["answer", "memory", "tool", "build_tool", "self_improve"]}
  }
}`

var actionSchema = mustCompileSchema(actionSchemaJSON)

func mustCompileSchema(schemaJSON string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("action.json", strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("planner: invalid embedded action schema: %v", err))
	}
	schema, err := compiler.Compile("action.json")
	if err != nil {
		panic(fmt.Sprintf("planner: compile embedded action schema: %v", err))
	}
	return schema
}

// ParseAction validates raw JSON from the LLM against the action schema
// and decodes it into a typed Action. There is no mock fallback: an LLM
// failure or schema violation is returned as an error, not papered over.
func ParseAction(payload []byte) (Action, error) {
	var generic interface{}
	if err := json.Unmarshal(payload, &generic); err != nil {
		return Action{}, fmt.Errorf("planner: invalid action JSON: %w", err)
	}
	if err := actionSchema.Validate(generic); err != nil {
		return Action{}, fmt.Errorf("planner: action failed schema validation: %w", err)
	}

	var raw rawAction
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Action{}, fmt.Errorf("planner: decode action: %w", err)
	}

	switch ActionKind(raw.Kind) {
	case ActionAnswer:
		return Action{Kind: ActionAnswer, Answer: &AnswerPayload{Text: raw.Text}}, nil
	case ActionMemory:
		return Action{Kind: ActionMemory, Memory: &MemoryPayload{Namespace: raw.Namespace, Topic: raw.Topic}}, nil
	case ActionTool:
		return Action{Kind: ActionTool, Tool: &ToolPayload{Name: raw.Tool, Args: raw.Args}}, nil
	case ActionBuildTool:
		return Action{Kind: ActionBuildTool, BuildTool: &BuildToolPayload{Name: raw.Name, Description: raw.Description, Source: raw.Source}}, nil
	case ActionSelfImprove:
		return Action{Kind: ActionSelfImprove, SelfImprove: &SelfImprovePayload{NewPrompt: raw.NewPrompt, Summary: raw.Summary}}, nil
	default:
		return Action{}, fmt.Errorf("planner: unrecognized action kind %q", raw.Kind)
	}
}

// SerializeToolArgs renders a tool call's arguments for logging/auditing.
// "command_exec" with a single arg is passed through verbatim (it is
// itself a full shell command); every other tool's args are rendered as
// sorted key=value pairs so the serialization is deterministic.
func SerializeToolArgs(toolName string, args map[string]string) string {
	if toolName == "command_exec" {
		if v, ok := args["command"]; ok && len(args) == 1 {
			return v
		}
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, args[k]))
	}
	return strings.Join(parts, " ")
}

// Builtins is the flat dispatch table from tool name to handler,
// mirroring the teacher's registry-of-funcs pattern rather than a type
// switch per call site.
type BuiltinHandler func(ctx context.Context, args map[string]string) (string, error)

type Builtins struct {
	handlers map[string]BuiltinHandler
}

func NewBuiltins() *Builtins {
	return &Builtins{handlers: make(map[string]BuiltinHandler)}
}

func (b *Builtins) Register(name string, handler BuiltinHandler) {
	b.handlers[name] = handler
}

func (b *Builtins) Lookup(name string) (BuiltinHandler, bool) {
	h, ok := b.handlers[name]
	return h, ok
}
