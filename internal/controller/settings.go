package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"example.com/unitbrain/internal/db"
	sshc "example.com/unitbrain/internal/ssh"
)

// installRequest carries the SSH credentials used to push trees to a unit
// host. Defaults have no address; deploys fall back to the unit's IP.
type installRequest struct {
	Address string `json:"address"`
	User    string `json:"user"`
	SSHKey  string `json:"ssh_key"`
}

func (req installRequest) credentials(needAddress bool) (db.InstallConfig, error) {
	cfg := db.InstallConfig{
		Address: strings.TrimSpace(req.Address),
		User:    strings.TrimSpace(req.User),
		SSHKey:  req.SSHKey,
	}
	if cfg.User == "" || strings.TrimSpace(cfg.SSHKey) == "" {
		return cfg, errors.New("user and ssh_key required")
	}
	if needAddress && cfg.Address == "" {
		return cfg, errors.New("address required")
	}
	if _, err := sshc.PublicKey(cfg.SSHKey); err != nil {
		return cfg, fmt.Errorf("ssh_key: %w", err)
	}
	return cfg, nil
}

// installView is what the API shows of stored credentials. The private key
// never leaves the controller.
type installView struct {
	Address      string `json:"address,omitempty"`
	User         string `json:"user"`
	SSHPublicKey string `json:"ssh_public_key,omitempty"`
}

func viewInstall(cfg *db.InstallConfig) *installView {
	if cfg == nil {
		return nil
	}
	v := &installView{Address: cfg.Address, User: cfg.User}
	if cfg.SSHKey != "" {
		v.SSHPublicKey, _ = sshc.PublicKey(cfg.SSHKey)
	}
	return v
}

type unitView struct {
	db.Unit
	InstallConfig *installView `json:"install_config,omitempty"`
}

func viewUnit(u db.Unit) unitView {
	return unitView{Unit: u, InstallConfig: viewInstall(u.InstallConfig)}
}

func (c *Controller) GetInstallDefaults(w http.ResponseWriter, r *http.Request) {
	cfg, err := c.DB.GetDefaultInstallConfig(r.Context())
	if err != nil {
		c.log.Error("get install defaults", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load defaults")
		return
	}
	respondJSON(w, http.StatusOK, map[string]*installView{"install_config": viewInstall(cfg)})
}

func (c *Controller) UpdateInstallDefaults(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid install defaults")
		return
	}
	req.Address = ""
	cfg, err := req.credentials(false)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := c.DB.SaveDefaultInstallConfig(r.Context(), cfg); err != nil {
		c.log.Error("update install defaults", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save defaults")
		return
	}
	respondJSON(w, http.StatusOK, map[string]*installView{"install_config": viewInstall(&cfg)})
}
