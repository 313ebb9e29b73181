package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"coachlink.app/internal/gateway"
	"coachlink.app/internal/identity"
)

// Request bodies map JSON fields to gateway inputs one by one. Ownership and
// authorship fields are accepted so that old clients keep working, and are
// always overwritten with the verified caller.

type createClientRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Notes    string `json:"notes"`

	CoachID        string `json:"coach_id"`
	CoachIDCamel   string `json:"coachId"`
	UserID         string `json:"user_id"`
	CreatedBy      string `json:"created_by"`
	CreatedByCamel string `json:"createdBy"`
}

type updateClientRequest struct {
	Notes *string `json:"notes"`
}

type sendMessageRequest struct {
	RecipientID string `json:"recipient_id"`
	Body        string `json:"body"`
	SenderID    string `json:"sender_id"`
}

type integrationRequest struct {
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at"`
	UserID       string     `json:"user_id"`
}

type weightLogRequest struct {
	WeightKg  float64    `json:"weight_kg"`
	Note      string     `json:"note"`
	LoggedAt  *time.Time `json:"logged_at"`
	UserID    string     `json:"user_id"`
	CoachID   string     `json:"coach_id"`
	CreatedBy string     `json:"created_by"`
}

type workoutRequest struct {
	ClientID     string `json:"client_id"`
	Title        string `json:"title"`
	Details      string `json:"details"`
	ScheduledFor string `json:"scheduled_for"`
	CoachID      string `json:"coach_id"`
	AssignedBy   string `json:"assigned_by"`
}

// integrationView never returns stored secrets in full.
type integrationView struct {
	ID              string     `json:"id"`
	Provider        string     `json:"provider"`
	AccessToken     string     `json:"access_token"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func viewIntegration(in gateway.Integration) integrationView {
	return integrationView{
		ID:              in.ID,
		Provider:        in.Provider,
		AccessToken:     maskSecret(in.AccessToken),
		HasRefreshToken: in.RefreshToken != "",
		ExpiresAt:       in.ExpiresAt,
		CreatedAt:       in.CreatedAt,
		UpdatedAt:       in.UpdatedAt,
	}
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func list[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// --- clients ---

func (a *API) listClients(w http.ResponseWriter, r *http.Request) {
	rows, err := gatewayFrom(r.Context()).ListClients(r.Context())
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(rows))
}

func (a *API) getClient(w http.ResponseWriter, r *http.Request) {
	c, err := gatewayFrom(r.Context()).GetClient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) createClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := gatewayFrom(r.Context()).CreateClient(r.Context(), gateway.NewClient{
		FullName:  req.FullName,
		Email:     req.Email,
		Notes:     req.Notes,
		CoachID:   firstNonEmpty(req.CoachID, req.CoachIDCamel),
		UserID:    req.UserID,
		CreatedBy: firstNonEmpty(req.CreatedBy, req.CreatedByCamel),
	})
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/clients/%s", c.ID))
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) updateClient(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, identity.RoleCoach) {
		return
	}
	var req updateClientRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Notes == nil {
		writeError(w, r, http.StatusBadRequest, "notes is required")
		return
	}
	c, err := gatewayFrom(r.Context()).UpdateClientNotes(r.Context(), chi.URLParam(r, "id"), *req.Notes)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) deleteClient(w http.ResponseWriter, r *http.Request) {
	if err := gatewayFrom(r.Context()).DeleteClient(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleGatewayError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- messages ---

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	rows, err := gatewayFrom(r.Context()).ListMessages(r.Context())
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(rows))
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m, err := gatewayFrom(r.Context()).SendMessage(r.Context(), gateway.NewMessage{
		RecipientID: req.RecipientID,
		Body:        req.Body,
		SenderID:    req.SenderID,
	})
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) markMessageRead(w http.ResponseWriter, r *http.Request) {
	m, err := gatewayFrom(r.Context()).MarkMessageRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := gatewayFrom(r.Context()).DeleteMessage(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleGatewayError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- device integrations ---

func (a *API) listIntegrations(w http.ResponseWriter, r *http.Request) {
	rows, err := gatewayFrom(r.Context()).ListIntegrations(r.Context())
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	views := make([]integrationView, 0, len(rows))
	for _, in := range rows {
		views = append(views, viewIntegration(in))
	}
	writeJSON(w, http.StatusOK, list(views))
}

func (a *API) upsertIntegration(w http.ResponseWriter, r *http.Request) {
	var req integrationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in, err := gatewayFrom(r.Context()).UpsertIntegration(r.Context(), gateway.NewIntegration{
		Provider:     req.Provider,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
		UserID:       req.UserID,
	})
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewIntegration(in))
}

func (a *API) deleteIntegration(w http.ResponseWriter, r *http.Request) {
	if err := gatewayFrom(r.Context()).DeleteIntegration(r.Context(), chi.URLParam(r, "provider")); err != nil {
		handleGatewayError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- weight logs ---

func (a *API) listWeightLogs(w http.ResponseWriter, r *http.Request) {
	rows, err := gatewayFrom(r.Context()).ListWeightLogs(r.Context())
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(rows))
}

func (a *API) createWeightLog(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, identity.RoleClient) {
		return
	}
	var req weightLogRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in := gateway.NewWeightLog{
		WeightKg:  req.WeightKg,
		Note:      req.Note,
		UserID:    req.UserID,
		CoachID:   req.CoachID,
		CreatedBy: req.CreatedBy,
	}
	if req.LoggedAt != nil {
		in.LoggedAt = req.LoggedAt.UTC()
	}
	l, err := gatewayFrom(r.Context()).CreateWeightLog(r.Context(), in)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (a *API) deleteWeightLog(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, identity.RoleClient) {
		return
	}
	if err := gatewayFrom(r.Context()).DeleteWeightLog(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleGatewayError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- workout assignments ---

func (a *API) listWorkoutAssignments(w http.ResponseWriter, r *http.Request) {
	rows, err := gatewayFrom(r.Context()).ListWorkoutAssignments(r.Context())
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(rows))
}

func (a *API) assignWorkout(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, identity.RoleCoach) {
		return
	}
	var req workoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var scheduled time.Time
	if s := strings.TrimSpace(req.ScheduledFor); s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "scheduled_for must be a date (YYYY-MM-DD)")
			return
		}
		scheduled = t
	}
	wa, err := gatewayFrom(r.Context()).AssignWorkout(r.Context(), gateway.NewWorkoutAssignment{
		ClientID:     req.ClientID,
		Title:        req.Title,
		Details:      req.Details,
		ScheduledFor: scheduled,
		CoachID:      req.CoachID,
		AssignedBy:   req.AssignedBy,
	})
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wa)
}

func (a *API) deleteWorkoutAssignment(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, identity.RoleCoach) {
		return
	}
	if err := gatewayFrom(r.Context()).DeleteWorkoutAssignment(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleGatewayError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
