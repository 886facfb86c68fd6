package controller

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"example.com/unitbrain/internal/agent"
	"example.com/unitbrain/internal/db"
	sshc "example.com/unitbrain/internal/ssh"
)

// DefaultTreeDir is where deployed definitions land unless the request names a path.
const DefaultTreeDir = "/etc/unitbrain"

type deployRequest struct {
	TreeID  int64  `json:"tree_id"`
	Path    string `json:"path"`
	Reload  bool   `json:"reload"`
	Sudo    bool   `json:"sudo"`
	SudoPwd string `json:"sudo_password"`
}

type deployResponse struct {
	Unit   string           `json:"unit"`
	Tree   string           `json:"tree"`
	Path   string           `json:"path"`
	Bytes  int              `json:"bytes"`
	Reload *commandResponse `json:"reload,omitempty"`
}

// DeployTree writes a stored definition onto the unit host over SFTP and
// optionally asks the agent to reload it.
func (c *Controller) DeployTree(w http.ResponseWriter, r *http.Request) {
	unitID, err := parseSubresourceID(r.URL.Path, "/api/units/", "/deploy")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TreeID == 0 {
		respondError(w, http.StatusBadRequest, "tree_id required")
		return
	}
	unit, ok := c.loadUnit(w, r.Context(), unitID)
	if !ok {
		return
	}
	tree, err := c.DB.GetTreeByID(r.Context(), req.TreeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "tree not found")
			return
		}
		c.log.Error("deploy: fetch tree", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to fetch tree")
		return
	}
	cfg, err := c.installConfigFor(r, unit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	dst := req.Path
	if dst == "" {
		dst = DefaultTreeDir + "/tree." + tree.Format
	}
	sudoPwd := req.SudoPwd
	if sudoPwd == "" {
		sudoPwd = os.Getenv("AGENT_SUDO_PASSWORD")
	}
	useSudo := req.Sudo || strings.ToLower(cfg.User) != "root"
	if useSudo && sudoPwd == "" {
		respondError(w, http.StatusBadRequest, "sudo password required")
		return
	}
	host := sshc.HostSpec{
		Addr:         cfg.Address,
		User:         cfg.User,
		PrivateKey:   []byte(cfg.SSHKey),
		UseSudo:      useSudo,
		SudoPassword: sudoPwd,
	}
	files := []sshc.File{{Path: dst, Mode: 0o644, Data: []byte(tree.Definition)}}
	if err := c.Push(host, files); err != nil {
		c.log.Error("deploy: push failed", "unit", unit.Name, "error", err)
		msg := "failed to deploy tree"
		if strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "no route to host") || strings.Contains(err.Error(), "i/o timeout") {
			msg = "Connection failed. Please check the connection or restart the unit."
		}
		respondError(w, http.StatusBadGateway, msg)
		return
	}
	c.log.Info("tree deployed", "unit", unit.Name, "tree", tree.Name, "path", dst)

	resp := deployResponse{Unit: unit.Name, Tree: tree.Name, Path: dst, Bytes: len(tree.Definition)}
	if req.Reload {
		sent, err := c.sendCommand(unit, agent.Command{Type: agent.CmdReloadTree})
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp.Reload = &sent
	}
	respondJSON(w, http.StatusOK, resp)
}

// installConfigFor falls back to the saved defaults and the unit's last IP.
func (c *Controller) installConfigFor(r *http.Request, unit db.Unit) (db.InstallConfig, error) {
	var cfg db.InstallConfig
	if unit.InstallConfig != nil {
		cfg = *unit.InstallConfig
	}
	if cfg.User == "" || cfg.SSHKey == "" {
		def, err := c.DB.GetDefaultInstallConfig(r.Context())
		if err != nil {
			return cfg, fmt.Errorf("load install defaults: %w", err)
		}
		if def != nil {
			if cfg.User == "" {
				cfg.User = def.User
			}
			if cfg.SSHKey == "" {
				cfg.SSHKey = def.SSHKey
			}
		}
	}
	if cfg.Address == "" {
		cfg.Address = unit.IP
	}
	if cfg.Address == "" || cfg.User == "" || cfg.SSHKey == "" {
		return cfg, fmt.Errorf("unit %s ssh credentials missing", unit.Name)
	}
	return cfg, nil
}
