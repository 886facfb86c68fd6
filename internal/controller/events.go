package controller

import (
	"net/http"
	"strconv"

	"example.com/unitbrain/internal/db"
)

func (c *Controller) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := db.EventFilter{UnitID: q.Get("unit"), RunID: q.Get("run")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	evts, err := c.DB.ListEvents(r.Context(), f)
	if err != nil {
		c.log.Error("list events", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	respondJSON(w, http.StatusOK, evts)
}
