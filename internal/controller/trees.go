package controller

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"example.com/unitbrain/internal/agent"
	"example.com/unitbrain/internal/agent/behavior"
	"example.com/unitbrain/internal/db"
	"example.com/unitbrain/internal/treedef"
)

type treeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Format      string `json:"format"`
	Definition  string `json:"definition"`
}

type validateResponse struct {
	Valid  bool             `json:"valid"`
	Error  string           `json:"error,omitempty"`
	Tasks  int              `json:"tasks,omitempty"`
	Tables *behavior.Tables `json:"tables,omitempty"`
}

// check parses and compiles the definition and returns the normalized format.
func (c *Controller) check(req treeRequest) (treedef.Format, behavior.Tables, error) {
	format, err := treedef.ParseFormat(req.Format)
	if err != nil {
		return "", behavior.Tables{}, err
	}
	if strings.TrimSpace(req.Definition) == "" {
		return "", behavior.Tables{}, errors.New("definition required")
	}
	tables, err := treedef.Validate(format, []byte(req.Definition), c.Registry)
	if err != nil {
		return "", behavior.Tables{}, err
	}
	return format, tables, nil
}

func (c *Controller) ListTrees(w http.ResponseWriter, r *http.Request) {
	trees, err := c.DB.ListTrees(r.Context())
	if err != nil {
		c.log.Error("list trees", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list trees")
		return
	}
	respondJSON(w, http.StatusOK, trees)
}

func (c *Controller) GetTree(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromPath(r.URL.Path, "/api/trees/")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tree id")
		return
	}
	tree, err := c.DB.GetTreeByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "tree not found")
			return
		}
		c.log.Error("get tree", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to fetch tree")
		return
	}
	respondJSON(w, http.StatusOK, tree)
}

func (c *Controller) CreateTree(w http.ResponseWriter, r *http.Request) {
	var req treeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid tree payload")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "tree name required")
		return
	}
	format, _, err := c.check(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid tree definition: %v", err))
		return
	}
	t := db.Tree{Name: req.Name, Description: req.Description, Format: string(format), Definition: req.Definition}
	id, err := c.DB.CreateTree(r.Context(), t)
	if err != nil {
		c.log.Error("create tree", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create tree")
		return
	}
	created, err := c.DB.GetTreeByID(r.Context(), id)
	if err != nil {
		c.log.Error("fetch created tree", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to fetch tree")
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (c *Controller) UpdateTree(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromPath(r.URL.Path, "/api/trees/")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tree id")
		return
	}
	var req treeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid tree payload")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "tree name required")
		return
	}
	format, _, err := c.check(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid tree definition: %v", err))
		return
	}
	t := db.Tree{ID: id, Name: req.Name, Description: req.Description, Format: string(format), Definition: req.Definition}
	if err := c.DB.UpdateTree(r.Context(), t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "tree not found")
			return
		}
		c.log.Error("update tree", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to update tree")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (c *Controller) DeleteTree(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromPath(r.URL.Path, "/api/trees/")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tree id")
		return
	}
	if err := c.DB.DeleteTree(r.Context(), id); err != nil {
		c.log.Error("delete tree", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete tree")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateTree compiles a definition without storing it.
func (c *Controller) ValidateTree(w http.ResponseWriter, r *http.Request) {
	var req treeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid tree payload")
		return
	}
	_, tables, err := c.check(req)
	if err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, validateResponse{Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, validateResponse{Valid: true, Tasks: len(tables.ParentIndex), Tables: &tables})
}

type applyTreeRequest struct {
	UnitIDs []int64 `json:"unit_ids"`
}

type applyTreeResponse struct {
	Commands []commandResponse `json:"commands"`
}

// ApplyTree sends the stored definition to each unit as a load_tree command.
func (c *Controller) ApplyTree(w http.ResponseWriter, r *http.Request) {
	treeID, err := parseSubresourceID(r.URL.Path, "/api/trees/", "/apply")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tree apply path")
		return
	}
	var req applyTreeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid apply payload")
		return
	}
	if len(req.UnitIDs) == 0 {
		respondError(w, http.StatusBadRequest, "unit_ids required")
		return
	}
	t, err := c.DB.GetTreeByID(r.Context(), treeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "tree not found")
			return
		}
		c.log.Error("apply tree fetch", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load tree")
		return
	}
	data, err := json.Marshal(agent.LoadTreeData{Name: t.Name, Format: t.Format, Definition: t.Definition})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode tree command")
		return
	}
	cmd := agent.Command{Type: agent.CmdLoadTree, Data: data}

	units := make([]db.Unit, 0, len(req.UnitIDs))
	for _, id := range req.UnitIDs {
		unit, ok := c.loadUnit(w, r.Context(), id)
		if !ok {
			return
		}
		if unit.AgentID == "" {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("unit %s has no agent", unit.Name))
			return
		}
		units = append(units, unit)
	}
	resp := applyTreeResponse{Commands: []commandResponse{}}
	for _, unit := range units {
		sent, err := c.sendCommand(unit, cmd)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Commands = append(resp.Commands, sent)
	}
	respondJSON(w, http.StatusAccepted, resp)
}
