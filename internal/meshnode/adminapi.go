package meshnode

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/phoenixmesh/phoenix/internal/agentfactory"
	"github.com/phoenixmesh/phoenix/internal/planner"
	"github.com/phoenixmesh/phoenix/pkg/meshrpc"
)

// registerAdminRoutes wires the node's JSON control API, the surface
// cmd/phoenixd's CLI talks to. Grounded on cmd/nexus/api_client.go's
// request/response shape (plain JSON over HTTP, no auth middleware
// layered on here since the CLI runs alongside the node it controls).
func (n *Node) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/agents", n.handleAgents)
	mux.HandleFunc("/api/v1/agents/", n.handleAgentByID)
	mux.HandleFunc("/api/v1/consensus/status", n.handleConsensusStatus)
	mux.HandleFunc("/api/v1/consensus/request", n.handleConsensusRequest)
	mux.HandleFunc("/api/v1/consensus/vote", n.handleConsensusVote)
	mux.HandleFunc("/api/v1/consensus/override", n.handleConsensusOverride)
	mux.HandleFunc("/api/v1/prompt/history", n.handlePromptHistory)
	mux.HandleFunc("/api/v1/prompt/restore", n.handlePromptRestore)
	mux.HandleFunc("/api/v1/plan/dispatch", n.handlePlanDispatch)
	mux.HandleFunc("/api/v1/plan/approve", n.handlePlanApprove)
	mux.HandleFunc("/api/v1/memory/query", n.handleMemoryQuery)
	mux.HandleFunc("/api/v1/knowledge/atlas", n.handleKnowledgeAtlas)
	mux.HandleFunc("/api/v1/knowledge/path", n.handleKnowledgePath)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type agentView struct {
	ID       string `json:"id"`
	Mission  string `json:"mission"`
	Active   bool   `json:"active"`
	LastTask string `json:"last_task,omitempty"`
}

func (n *Node) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		agents := n.Agents.ListAgents()
		out := make([]agentView, 0, len(agents))
		for _, a := range agents {
			view := agentView{ID: a.ID, Mission: a.Mission, Active: a.IsActive()}
			if rep, ok := a.LastReport(); ok {
				view.LastTask = rep.TaskID
			}
			out = append(out, view)
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var req struct {
			Mission string `json:"mission"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		agent, err := n.Agents.Spawn(r.Context(), req.Mission)
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusCreated, agentView{ID: agent.ID, Mission: agent.Mission})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (n *Node) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		agent, ok := n.Agents.GetAgent(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      agent.ID,
			"mission": agent.Mission,
			"logs":    agent.Logs(),
		})

	case http.MethodPost:
		var task agentfactory.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := n.Agents.PostTask(id, task); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)

	case http.MethodDelete:
		if err := n.Agents.KillAgent(id); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (n *Node) handleConsensusStatus(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("session_token")
	commit := r.URL.Query().Get("commit_hash")
	result, err := n.AdminRPC.ConsensusStatus(r.Context(), token, commit)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (n *Node) handleConsensusRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionToken string `json:"session_token"`
		CommitHash   string `json:"commit_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, span := n.Tracer.TraceMeshOp(r.Context(), "consensus.request", n.cfg.Mesh.NodeID)
	defer span.End()
	if err := n.AdminRPC.RequestConsensus(ctx, req.SessionToken, req.CommitHash); err != nil {
		n.Tracer.RecordError(span, err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (n *Node) handleConsensusVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionToken string  `json:"session_token"`
		CommitHash   string  `json:"commit_hash"`
		Score        float64 `json:"score"`
		Approve      bool    `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vote := meshrpc.SubmitVoteRequest{
		SessionToken: req.SessionToken,
		CommitHash:   req.CommitHash,
		Score:        req.Score,
		Approve:      req.Approve,
	}
	if err := n.AdminRPC.SubmitVote(r.Context(), vote); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (n *Node) handleConsensusOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionToken string `json:"session_token"`
		CommitHash   string `json:"commit_hash"`
		Rationale    string `json:"rationale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := n.AdminRPC.StrategicOverride(r.Context(), req.SessionToken, req.CommitHash, req.Rationale)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (n *Node) handlePromptHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, n.Prompt.History())
}

type planKey struct {
	TwinID    string `json:"twin_id"`
	SessionID string `json:"session_id"`
	Namespace string `json:"namespace"`
}

func (k planKey) toPendingKey() planner.PendingKey {
	return planner.PendingKey{TwinID: k.TwinID, SessionID: k.SessionID, Namespace: k.Namespace}
}

type planOutcome struct {
	Tag    string `json:"tag,omitempty"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func fromOutcome(o planner.Outcome) planOutcome {
	out := planOutcome{Tag: o.Tag, Result: o.Result}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return out
}

// handlePlanDispatch routes one planned action through the planner,
// gating tool/memory actions that require human approval (§4.3). The
// request's action field is the raw LLM-emitted action JSON, validated
// against the same schema the planner itself enforces.
func (n *Node) handlePlanDispatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		planKey
		Action json.RawMessage `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	action, err := planner.ParseAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, span := n.Tracer.TraceMeshOp(r.Context(), "planner.dispatch", n.cfg.Mesh.NodeID)
	defer span.End()
	outcome := n.Planner.Dispatch(ctx, req.toPendingKey(), action)
	if outcome.Err != nil {
		n.Tracer.RecordError(span, outcome.Err)
	}
	writeJSON(w, http.StatusOK, fromOutcome(outcome))
}

// handlePlanApprove answers a pending gated tool or memory action.
func (n *Node) handlePlanApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		planKey
		Approved bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	outcome := n.Planner.ResolveApproval(r.Context(), req.toPendingKey(), req.Approved)
	writeJSON(w, http.StatusOK, fromOutcome(outcome))
}

func (n *Node) handlePromptRestore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HistoryID int64 `json:"history_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rev, err := n.Prompt.Restore(r.Context(), req.HistoryID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// handleMemoryQuery runs the hybrid retrieval pipeline (dense + sparse
// candidates, RRF fusion, namespace diversification, and an optional
// cross-encoder deep-verify pass) over the node's configured collections.
func (n *Node) handleMemoryQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, span := n.Tracer.TraceMeshOp(r.Context(), "retrieval.query", n.cfg.Mesh.NodeID)
	defer span.End()
	results, err := n.Retrieval.Query(ctx, req.Query, req.TopK)
	if err != nil {
		n.Tracer.RecordError(span, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleKnowledgeAtlas builds (and caches) the 3-D knowledge atlas over a
// collection's embeddings for visualization (§4.7).
func (n *Node) handleKnowledgeAtlas(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	maxNodes, _ := strconv.Atoi(r.URL.Query().Get("max_nodes"))

	ctx, span := n.Tracer.TraceMeshOp(r.Context(), "retrieval.atlas", n.cfg.Mesh.NodeID)
	defer span.End()
	atlas, err := n.Retrieval.Atlas(ctx, collection, maxNodes)
	if err != nil {
		n.Tracer.RecordError(span, err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, atlas)
}

// handleKnowledgePath answers a semantic shortest-path query (Dijkstra
// over the cross-encoder-rescored atlas edges, §4.7).
func (n *Node) handleKnowledgePath(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Collection string `json:"collection"`
		Start      string `json:"start"`
		End        string `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, span := n.Tracer.TraceMeshOp(r.Context(), "retrieval.path", n.cfg.Mesh.NodeID)
	defer span.End()
	path, found, err := n.Retrieval.Path(ctx, req.Collection, req.Start, req.End)
	if err != nil {
		n.Tracer.RecordError(span, err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "found": found})
}
