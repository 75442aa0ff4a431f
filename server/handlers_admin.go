package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
	"github.com/ishowlab-boop/CircleMakerProBot/telemetry"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	premiumLimit     = 50
	exportPageSize   = 200
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	admin    *ledger.Admin
	pinger   Pinger
	exporter Exporter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidDays), errors.Is(err, ledger.ErrInvalidInput):
		status = http.StatusBadRequest
	case ledger.IsStorageError(err):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		telemetry.LoggerWithCorr(r.Context()).Error("admin api error", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func userID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, ledger.ErrInvalidInput
	}
	return id, nil
}

// accountJSON is the wire shape of an account.
type accountJSON struct {
	UserID      int64   `json:"user_id"`
	Username    string  `json:"username,omitempty"`
	FirstName   string  `json:"first_name,omitempty"`
	Balance     int64   `json:"balance"`
	ValidFrom   *string `json:"valid_from"`
	ValidUntil  *string `json:"valid_until"`
	FreeClaimed bool    `json:"free_claimed"`
	VideosMade  int64   `json:"videos_made"`
	VoicesMade  int64   `json:"voices_made"`
	JoinedAt    string  `json:"joined_at"`
	LastSeen    string  `json:"last_seen"`
}

func toJSON(a ledger.Account) accountJSON {
	out := accountJSON{
		UserID:      a.UserID,
		Username:    a.Username,
		FirstName:   a.FirstName,
		Balance:     a.Balance,
		FreeClaimed: a.FreeClaimed,
		VideosMade:  a.VideosMade,
		VoicesMade:  a.VoicesMade,
		JoinedAt:    a.JoinedAt.UTC().Format(time.RFC3339),
		LastSeen:    a.LastSeen.UTC().Format(time.RFC3339),
	}
	if a.ValidFrom != nil {
		s := a.ValidFrom.UTC().Format(time.RFC3339)
		out.ValidFrom = &s
	}
	if a.ValidUntil != nil {
		s := a.ValidUntil.UTC().Format(time.RFC3339)
		out.ValidUntil = &s
	}
	return out
}

func listJSON(list []ledger.Account) []accountJSON {
	out := make([]accountJSON, 0, len(list))
	for _, a := range list {
		out = append(out, toJSON(a))
	}
	return out
}

// HandleStats returns account totals.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	n, err := h.admin.CountAccounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	active, err := h.admin.ListActiveValidity(r.Context(), premiumLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"accounts": n, "active_validity": len(active)})
}

// HandleAccountsList pages accounts, most recently seen first.
func (h *Handlers) HandleAccountsList(w http.ResponseWriter, r *http.Request) {
	offset := parseIntQuery(r, "offset", 0)
	limit := parseIntQuery(r, "limit", defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	list, err := h.admin.ListAccounts(r.Context(), offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := h.admin.CountAccounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": listJSON(list),
		"offset":   offset,
		"limit":    limit,
		"total":    total,
	})
}

// HandleAccount returns one account.
func (h *Handlers) HandleAccount(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	acc, err := h.admin.Account(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(acc))
}

func (h *Handlers) mutated(w http.ResponseWriter, r *http.Request, op string, acc ledger.Account, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	telemetry.RecordAdminMutation(op)
	telemetry.LoggerWithCorr(r.Context()).Info("admin mutation",
		slog.String("op", op),
		slog.String("via", "http"),
		slog.Int64("user_id", acc.UserID),
		slog.Int64("balance", acc.Balance))
	writeJSON(w, http.StatusOK, toJSON(acc))
}

// HandleCredits applies a signed credit delta: {"delta": 10} or {"delta": -3}.
func (h *Handlers) HandleCredits(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Delta int64 `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, ledger.ErrInvalidInput)
		return
	}
	op := "grant"
	if req.Delta < 0 {
		op = "revoke"
	}
	acc, err := h.admin.AdjustCredits(r.Context(), id, req.Delta)
	h.mutated(w, r, op, acc, err)
}

// HandleSetValidity replaces the validity window: {"days": 30}.
func (h *Handlers) HandleSetValidity(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, ledger.ErrInvalidInput)
		return
	}
	acc, err := h.admin.SetValidityDays(r.Context(), id, req.Days)
	h.mutated(w, r, "set_validity", acc, err)
}

// HandleClearValidity removes the validity window.
func (h *Handlers) HandleClearValidity(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	acc, err := h.admin.ClearValidity(r.Context(), id)
	h.mutated(w, r, "clear_validity", acc, err)
}

// HandlePremium lists active validity windows, soonest expiry first.
func (h *Handlers) HandlePremium(w http.ResponseWriter, r *http.Request) {
	list, err := h.admin.ListActiveValidity(r.Context(), premiumLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": listJSON(list)})
}

// HandleExport streams every account as JSON lines.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="accounts.jsonl"`)
	enc := json.NewEncoder(w)
	write := func(a ledger.Account) error { return enc.Encode(toJSON(a)) }

	var err error
	if h.exporter != nil {
		err = h.exporter.Export(r.Context(), write)
	} else {
		err = h.exportPaged(r, write)
	}
	if err != nil {
		// headers are already sent; the truncated body is the signal
		telemetry.LoggerWithCorr(r.Context()).Error("export failed", slog.Any("error", err))
	}
}

func (h *Handlers) exportPaged(r *http.Request, fn func(ledger.Account) error) error {
	for offset := 0; ; offset += exportPageSize {
		list, err := h.admin.ListAccounts(r.Context(), offset, exportPageSize)
		if err != nil {
			return err
		}
		for _, a := range list {
			if err := fn(a); err != nil {
				return err
			}
		}
		if len(list) < exportPageSize {
			return nil
		}
	}
}
