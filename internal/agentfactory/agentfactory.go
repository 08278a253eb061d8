// Package agentfactory spawns and supervises a node's worker agents
// (§4.4): a bounded registry refuses new spawns past quota, each agent
// runs its own task loop against a small per-agent task channel, and a
// shared watchdog polls process resource usage and raises one
// ResourceWarning per active agent when it crosses threshold. Grounded
// on the teacher's runtime.MemStats-based system status gathering in
// internal/web/api.go, generalized from a one-shot status snapshot into
// a recurring poll.
package agentfactory

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phoenixmesh/phoenix/internal/eventbus"
)

const (
	// DefaultQuota is the number of agents a factory will run at once
	// before Spawn starts refusing new requests.
	DefaultQuota = 3

	taskQueueCapacity = 32
	logRingCapacity   = 500

	watchdogInterval  = 5 * time.Second
	rssWarnBytes      = 500 * 1024 * 1024
	cpuWarnFraction   = 0.20
)

// ErrAtQuota is returned by Spawn when the factory already runs Quota
// agents.
var ErrAtQuota = fmt.Errorf("agentfactory: at quota, refusing new agent")

// LLM is the narrow surface a worker needs from a chat model: given a
// system prompt and a task, produce a result. Kept as an interface so
// tests can substitute a fixed responder instead of a real provider.
type LLM interface {
	Complete(ctx context.Context, systemPrompt, task string, temperature float64) (string, error)
}

// MemoryRecorder persists the episodic-memory entry a worker writes on
// task completion (success or failure).
type MemoryRecorder interface {
	RecordEpisode(ctx context.Context, agentID, taskDescription, outcome string, compliant bool) error
}

// Task is one unit of work handed to an agent.
type Task struct {
	ID          string
	Description string
	Mission     string
}

// Report is the outcome a worker files after finishing a task.
type Report struct {
	TaskID    string
	Success   bool
	Output    string
	Err       string
	FinishedAt time.Time
}

// logRing is a bounded FIFO of an agent's log lines, oldest evicted
// first, mirroring the capped-history pattern used elsewhere in this
// module (promptmanager.Manager, sandbox.Executor) rather than letting
// per-agent logs grow without bound.
type logRing struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

func newLogRing(capacity int) *logRing {
	return &logRing{cap: capacity}
}

func (r *logRing) append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

func (r *logRing) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Agent is one running worker: its own task queue, log ring, and last
// filed report.
type Agent struct {
	ID      string
	Mission string

	tasks  chan Task
	logs   *logRing
	cancel context.CancelFunc

	mu         sync.Mutex
	lastReport *Report
	active     bool
}

// Logs returns a copy of this agent's recent log lines.
func (a *Agent) Logs() []string { return a.logs.snapshot() }

// LastReport returns the most recently filed report, if any.
func (a *Agent) LastReport() (Report, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastReport == nil {
		return Report{}, false
	}
	return *a.lastReport, true
}

func (a *Agent) setReport(r Report) {
	a.mu.Lock()
	a.lastReport = &r
	a.mu.Unlock()
}

// IsActive reports whether the agent's worker loop is still running: it
// is true from Spawn until the agent is killed or its context ends,
// whether or not a task is in progress.
func (a *Agent) IsActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *Agent) setActive(v bool) {
	a.mu.Lock()
	a.active = v
	a.mu.Unlock()
}

// Factory is the bounded registry of agents running on this node.
type Factory struct {
	llm      LLM
	memory   MemoryRecorder
	bus      *eventbus.Bus
	quota    int

	mu     sync.Mutex
	agents map[string]*Agent
	wg     sync.WaitGroup

	watchdogCancel context.CancelFunc
}

// New constructs a Factory with the given agent quota (DefaultQuota if
// quota <= 0).
func New(llm LLM, memory MemoryRecorder, bus *eventbus.Bus, quota int) *Factory {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &Factory{
		llm:    llm,
		memory: memory,
		bus:    bus,
		quota:  quota,
		agents: make(map[string]*Agent),
	}
}

// Spawn starts a new agent with the given mission, refusing with
// ErrAtQuota if the factory already runs Quota agents.
func (f *Factory) Spawn(ctx context.Context, mission string) (*Agent, error) {
	f.mu.Lock()
	if len(f.agents) >= f.quota {
		f.mu.Unlock()
		return nil, ErrAtQuota
	}
	id := uuid.NewString()
	agentCtx, cancel := context.WithCancel(ctx)
	a := &Agent{
		ID:      id,
		Mission: mission,
		tasks:   make(chan Task, taskQueueCapacity),
		logs:    newLogRing(logRingCapacity),
		cancel:  cancel,
		active:  true,
	}
	f.agents[id] = a
	f.mu.Unlock()

	a.logs.append(fmt.Sprintf("boot: agent %s spawned, mission=%q", id, mission))
	if f.bus != nil {
		f.bus.Publish(eventbus.EventAgentHandshake, AgentHandshake{AgentID: id, Mission: mission, StartedAt: time.Now()})
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.workerLoop(agentCtx, a)
	}()

	return a, nil
}

// PostTask enqueues a task for an agent by id without blocking; it
// returns an error when the agent's task channel is already full.
func (f *Factory) PostTask(agentID string, task Task) error {
	f.mu.Lock()
	a, ok := f.agents[agentID]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("agentfactory: no such agent %q", agentID)
	}
	select {
	case a.tasks <- task:
		return nil
	default:
		return fmt.Errorf("agentfactory: agent %q task queue is full", agentID)
	}
}

// ListAgents returns every agent currently registered, active or not.
func (f *Factory) ListAgents() []*Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Agent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out
}

// GetAgent looks up a single agent by id.
func (f *Factory) GetAgent(id string) (*Agent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	return a, ok
}

// KillAgent stops an agent's worker loop and removes it from the
// registry, freeing a quota slot.
func (f *Factory) KillAgent(id string) error {
	f.mu.Lock()
	a, ok := f.agents[id]
	if ok {
		delete(f.agents, id)
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("agentfactory: no such agent %q", id)
	}
	a.cancel()
	a.setActive(false)
	return nil
}

// AgentHandshake is published on spawn, mirroring the mesh handshake's
// PeerVerified payload shape.
type AgentHandshake struct {
	AgentID   string
	Mission   string
	StartedAt time.Time
}

// TaskUpdate is published as a task's status changes.
type TaskUpdate struct {
	AgentID string
	TaskID  string
	Status  string // "in_progress", "completed", "error"
}

// ResourceWarning is published at most once per active agent per
// watchdog tick that crosses threshold.
type ResourceWarning struct {
	AgentID   string
	RSSBytes  uint64
	CPUFrac   float64
	Timestamp time.Time
}

func (f *Factory) publishTaskUpdate(agentID, taskID, status string) {
	if f.bus == nil {
		return
	}
	f.bus.Publish(eventbus.EventTaskUpdate, TaskUpdate{AgentID: agentID, TaskID: taskID, Status: status})
}

const workerSystemPromptTemplate = `You are a Phoenix Mesh worker agent.
Mission: %s

Respond to the task with strict JSON only, shaped as:
{"success": true|false, "output": "<result text>"}
Do not include any prose outside that JSON object.`

func (f *Factory) workerLoop(ctx context.Context, a *Agent) {
	for {
		select {
		case <-ctx.Done():
			a.setActive(false)
			a.logs.append("agent stopped")
			return
		case task, ok := <-a.tasks:
			if !ok {
				a.setActive(false)
				return
			}
			f.runTask(ctx, a, task)
		}
	}
}

func (f *Factory) runTask(ctx context.Context, a *Agent, task Task) {
	a.logs.append(fmt.Sprintf("task %s received: %s", task.ID, task.Description))
	f.publishTaskUpdate(a.ID, task.ID, "in_progress")

	systemPrompt := fmt.Sprintf(workerSystemPromptTemplate, a.Mission)

	output, err := f.llm.Complete(ctx, systemPrompt, task.Description, 0.2)

	report := Report{TaskID: task.ID, FinishedAt: time.Now()}
	outcome := "completed"
	compliant := true
	if err != nil {
		report.Success = false
		report.Err = err.Error()
		outcome = "error"
		compliant = false
		a.logs.append(fmt.Sprintf("task %s failed: %v", task.ID, err))
	} else {
		report.Success = true
		report.Output = output
		a.logs.append(fmt.Sprintf("task %s completed", task.ID))
	}
	a.setReport(report)

	if f.memory != nil {
		if recErr := f.memory.RecordEpisode(ctx, a.ID, task.Description, outcome, compliant); recErr != nil {
			a.logs.append(fmt.Sprintf("episodic memory record failed: %v", recErr))
		}
	}

	f.publishTaskUpdate(a.ID, task.ID, outcome)
}

// StartWatchdog begins the shared resource watchdog, polling process
// RSS and CPU usage every watchdogInterval and publishing one
// ResourceWarning per currently-active agent whenever usage crosses the
// 500MB RSS / 20% CPU thresholds. Stop with StopWatchdog.
func (f *Factory) StartWatchdog(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(ctx)
	f.watchdogCancel = cancel
	go f.watchdogLoop(watchCtx)
}

// StopWatchdog halts the watchdog goroutine.
func (f *Factory) StopWatchdog() {
	if f.watchdogCancel != nil {
		f.watchdogCancel()
	}
}

func (f *Factory) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	var lastCPUTime time.Duration
	lastSample := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			now := time.Now()
			cpuFrac := estimateCPUFraction(lastCPUTime, lastSample, now)
			lastSample = now

			if m.Sys < rssWarnBytes && cpuFrac < cpuWarnFraction {
				continue
			}
			if f.bus == nil {
				continue
			}
			for _, a := range f.ListAgents() {
				if !a.IsActive() {
					continue
				}
				f.bus.Publish(eventbus.EventResourceWarning, ResourceWarning{
					AgentID:   a.ID,
					RSSBytes:  m.Sys,
					CPUFrac:   cpuFrac,
					Timestamp: now,
				})
			}
		}
	}
}

// estimateCPUFraction is a coarse goroutine-count proxy for CPU load,
// since the standard library exposes no per-process CPU-time reading
// without a third-party process-stats library absent from this module's
// dependency stack; it is deliberately conservative and only feeds the
// watchdog's threshold check, not any user-facing metric.
func estimateCPUFraction(_ time.Duration, lastSample, now time.Time) float64 {
	elapsed := now.Sub(lastSample).Seconds()
	if elapsed <= 0 {
		return 0
	}
	load := float64(runtime.NumGoroutine()) / float64(runtime.NumCPU()) / 100.0
	if load > 1 {
		load = 1
	}
	return load
}

// Wait blocks until every spawned agent's worker loop has returned.
// Intended for shutdown paths after every agent has been killed.
func (f *Factory) Wait() {
	f.wg.Wait()
}
