package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "agent", "consensus", "prompt", "plan", "memory", "knowledge"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestAgentCmdIncludesSpawnListKill(t *testing.T) {
	cmd := buildAgentCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"spawn", "list", "kill"} {
		if !names[name] {
			t.Fatalf("expected agent subcommand %q to be registered", name)
		}
	}
}

func TestConsensusCmdIncludesRequestVoteOverride(t *testing.T) {
	cmd := buildConsensusCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"status", "request", "vote", "override"} {
		if !names[name] {
			t.Fatalf("expected consensus subcommand %q to be registered", name)
		}
	}
}

func TestPromptCmdIncludesHistoryRestore(t *testing.T) {
	cmd := buildPromptCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"history", "restore"} {
		if !names[name] {
			t.Fatalf("expected prompt subcommand %q to be registered", name)
		}
	}
}

func TestPlanCmdIncludesDispatchApprove(t *testing.T) {
	cmd := buildPlanCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"dispatch", "approve"} {
		if !names[name] {
			t.Fatalf("expected plan subcommand %q to be registered", name)
		}
	}
}

func TestMemoryCmdIncludesQuery(t *testing.T) {
	cmd := buildMemoryCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	if !names["query"] {
		t.Fatal("expected memory subcommand \"query\" to be registered")
	}
}

func TestKnowledgeCmdIncludesAtlasPath(t *testing.T) {
	cmd := buildKnowledgeCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"atlas", "path"} {
		if !names[name] {
			t.Fatalf("expected knowledge subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPathPrecedence(t *testing.T) {
	if got := resolveConfigPath("/explicit/path.yaml"); got != "/explicit/path.yaml" {
		t.Fatalf("explicit path should win, got %q", got)
	}

	t.Setenv("PHOENIX_CONFIG", "/env/path.yaml")
	if got := resolveConfigPath(""); got != "/env/path.yaml" {
		t.Fatalf("env var should be used when no explicit path given, got %q", got)
	}

	t.Setenv("PHOENIX_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Fatalf("expected default config path, got %q", got)
	}
}
