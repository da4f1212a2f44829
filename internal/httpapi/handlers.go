package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/medvault/phr-access/internal/access"
	"github.com/medvault/phr-access/pkg/logger"
	"github.com/medvault/phr-access/pkg/types"
)

// Handlers exposes the access service over HTTP.
type Handlers struct {
	svc *access.Service
	log *logger.Logger
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(svc *access.Service, log *logger.Logger) *Handlers {
	return &Handlers{svc: svc, log: log}
}

// RegisterRoutes wires all routes onto the router. The router is expected
// to already carry the auth middleware.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/records", h.createRecord).Methods(http.MethodPost)
	r.HandleFunc("/records/mine", h.listOwned).Methods(http.MethodGet)
	r.HandleFunc("/records/shared-with-me", h.listShared).Methods(http.MethodGet)
	r.HandleFunc("/records/{id:[0-9]+}", h.getRecord).Methods(http.MethodGet)
	r.HandleFunc("/records/{id:[0-9]+}/content", h.getContent).Methods(http.MethodGet)
	r.HandleFunc("/records/{id:[0-9]+}/tags", h.updateTags).Methods(http.MethodPut)
	r.HandleFunc("/records/{id:[0-9]+}/grants", h.grantAccess).Methods(http.MethodPost)
	r.HandleFunc("/records/{id:[0-9]+}/grants", h.listGrants).Methods(http.MethodGet)
	r.HandleFunc("/records/{id:[0-9]+}/grants/{grantee}", h.revokeAccess).Methods(http.MethodDelete)
	r.HandleFunc("/records/{id:[0-9]+}/emergency", h.grantEmergency).Methods(http.MethodPost)
	r.HandleFunc("/records/{id:[0-9]+}/emergency", h.emergencyDetails).Methods(http.MethodGet)
	r.HandleFunc("/records/{id:[0-9]+}/emergency/{contact}", h.revokeEmergency).Methods(http.MethodDelete)

	r.HandleFunc("/content", h.putContent).Methods(http.MethodPost)

	r.HandleFunc("/roles/requests", h.requestRoleChange).Methods(http.MethodPost)
	r.HandleFunc("/roles/requests/mine", h.myRoleRequest).Methods(http.MethodGet)
	r.HandleFunc("/roles/requests/pending", h.listPendingRequests).Methods(http.MethodGet)
	r.HandleFunc("/roles/requests/{principal}/resolve", h.resolveRoleRequest).Methods(http.MethodPost)
	r.HandleFunc("/roles/{principal}", h.setRole).Methods(http.MethodPut)
	r.HandleFunc("/roles/{principal}", h.getRole).Methods(http.MethodGet)

	r.HandleFunc("/profile", h.setProfile).Methods(http.MethodPut)
	r.HandleFunc("/profiles/{principal}", h.getProfile).Methods(http.MethodGet)

	r.HandleFunc("/admin/records/{id:[0-9]+}/grants", h.adminGrantAccess).Methods(http.MethodPost)
	r.HandleFunc("/admin/records/{id:[0-9]+}/grants/{grantee}", h.adminRevokeGrant).Methods(http.MethodDelete)
	r.HandleFunc("/admin/records/{id:[0-9]+}/emergency/{contact}", h.adminRevokeEmergency).Methods(http.MethodDelete)
}

type createRecordRequest struct {
	ContentRef  string   `json:"content_ref"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	IsEncrypted bool     `json:"is_encrypted"`
}

func (h *Handlers) createRecord(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, types.NewAuthorizationError("MISSING_TOKEN", "request is not authenticated"))
		return
	}

	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	category, err := types.ParseCategory(req.Category)
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := h.svc.CreateRecord(r.Context(), principal, req.ContentRef, category, req.Tags, req.IsEncrypted)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

func (h *Handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.principalAndRecord(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.GetRecord(r.Context(), principal, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) getContent(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.principalAndRecord(w, r)
	if !ok {
		return
	}
	body, err := h.svc.GetContent(r.Context(), principal, id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

func (h *Handlers) putContent(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, types.NewAuthorizationError("MISSING_TOKEN", "request is not authenticated"))
		return
	}
	defer r.Body.Close()

	ref, err := h.svc.PutContent(r.Context(), principal, r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"content_ref": ref})
}

type updateTagsRequest struct {
	Tags []string `json:"tags"`
}

func (h *Handlers) updateTags(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.principalAndRecord(w, r)
	if !ok {
		return
	}
	var req updateTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.svc.UpdateTags(r.Context(), principal, id, req.Tags); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type grantRequest struct {
	Grantee string `json:"grantee"`
}

func (h *Handlers) grantAccess(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.principalAndRecord(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	grantee, err := types.ParsePrincipal(req.Grantee)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.GrantAccess(r.Context(), principal, id, grantee); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

func (h *Handlers) revokeAccess(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.principalAndRecord(w, r)
	if !ok {
		return
	}
	grantee, err := types.ParsePrincipal(mux.Vars(r)["grantee"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.RevokeAccess(r.Context(), principal, id, grantee); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handlers) listGrants(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.principalAndRecord(w, r)
	if !ok {
		return
	}
	grants, err := h.svc.SharedWith(r.Context(), principal, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if grants == nil {
		grants = []types.Principal{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"grantees": grants})
}

type emergencyRequest struct {
	Contact       string `json:"contact"`
	DurationHours int64  `json:"duration_hours"`
}

func (h *Handlers) grantEmergency(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.principalAndRecord(w, r)
	if !ok {
		return
	}
	var req emergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	contact, err := types.ParsePrincipal(req.Contact)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.GrantEmergency(r.Context(), principal, id, contact, req.DurationHours); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

func (h *Handlers) revokeEmergency(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.principalAndRecord(w, r)
	if !ok {
		return
	}
	contact, err := types.ParsePrincipal(mux.Vars(r)["contact"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.RevokeEmergency(r.Context(), principal, id, contact); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handlers) emergencyDetails(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.principalAndRecord(w, r)
	if !ok {
		return
	}
	grants, err := h.svc.EmergencyDetails(r.Context(), principal, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if grants == nil {
		grants = []types.EmergencyGrant{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"grants": grants})
}

func (h *Handlers) listOwned(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, types.NewAuthorizationError("MISSING_TOKEN", "request is not authenticated"))
		return
	}
	ids := h.svc.ListOwned(principal)
	if ids == nil {
		ids = []types.RecordID{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"record_ids": ids})
}

func (h *Handlers) listShared(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, types.NewAuthorizationError("MISSING_TOKEN", "request is not authenticated"))
		return
	}
	ids := h.svc.ListSharedWithMe(principal)
	if ids == nil {
		ids = []types.RecordID{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"record_ids": ids})
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handlers) requestRoleChange(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, types.NewAuthorizationError("MISSING_TOKEN", "request is not authenticated"))
		return
	}
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	role, err := types.ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.RequestRoleChange(r.Context(), principal, role); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

func (h *Handlers) myRoleRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, types.NewAuthorizationError("MISSING_TOKEN", "request is not authenticated"))
		return
	}
	req, err := h.svc.GetRoleRequest(principal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handlers) listPendingRequests(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, types.NewAuthorizationError("MISSING_TOKEN", "request is not authenticated"))
		return
	}
	pending, err := h.svc.ListPendingRequests(r.Context(), principal)
	if err != nil {
		writeError(w, err)
		return
	}
	if pending == nil {
		pending = []types.RoleChangeRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": pending})
}

type resolveRequest struct {
	Approve bool `json:"approve"`
}

func (h *Handlers) resolveRoleRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, types.NewAuthorizationError("MISSING_TOKEN", "request is not authenticated"))
		return
	}
	requester, err := types.ParsePrincipal(mux.Vars(r)["principal"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.svc.ResolveRoleRequest(r.Context(), principal, requester, req.Approve); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *Handlers) setRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, types.NewAuthorizationError("MISSING_TOKEN", "request is not authenticated"))
		return
	}
	target, err := types.ParsePrincipal(mux.Vars(r)["principal"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	role, err := types.ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.SetRole(r.Context(), principal, target, role); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

func (h *Handlers) getRole(w http.ResponseWriter, r *http.Request) {
	target, err := types.ParsePrincipal(mux.Vars(r)["principal"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"principal": target.String(),
		"role":      h.svc.GetRole(target).String(),
	})
}

type profileRequest struct {
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	Institution    string `json:"institution"`
}

func (h *Handlers) setProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, types.NewAuthorizationError("MISSING_TOKEN", "request is not authenticated"))
		return
	}
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.svc.SetProfile(r.Context(), principal, req.Name, req.Specialization, req.Institution); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	target, err := types.ParsePrincipal(mux.Vars(r)["principal"])
	if err != nil {
		writeError(w, err)
		return
	}
	profile, err := h.svc.GetProfile(target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handlers) adminGrantAccess(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.principalAndRecord(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	grantee, err := types.ParsePrincipal(req.Grantee)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.AdminGrantAccess(r.Context(), principal, id, grantee); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

func (h *Handlers) adminRevokeGrant(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.principalAndRecord(w, r)
	if !ok {
		return
	}
	grantee, err := types.ParsePrincipal(mux.Vars(r)["grantee"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.AdminRevokeGrant(r.Context(), principal, id, grantee); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handlers) adminRevokeEmergency(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.principalAndRecord(w, r)
	if !ok {
		return
	}
	contact, err := types.ParsePrincipal(mux.Vars(r)["contact"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.AdminRevokeEmergency(r.Context(), principal, id, contact); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handlers) principalAndRecord(w http.ResponseWriter, r *http.Request) (types.Principal, types.RecordID, bool) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, types.NewAuthorizationError("MISSING_TOKEN", "request is not authenticated"))
		return "", 0, false
	}
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "record id must be a positive integer"))
		return "", 0, false
	}
	return principal, types.RecordID(id), true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := types.ErrCodeInternalError
	message := "internal server error"

	var accessErr *types.AccessError
	if errors.As(err, &accessErr) {
		code = accessErr.Code
		message = accessErr.Message
		switch accessErr.Type {
		case types.ErrorTypeValidation:
			status = http.StatusBadRequest
		case types.ErrorTypeAuthorization:
			status = http.StatusForbidden
			if accessErr.Code == "MISSING_TOKEN" || accessErr.Code == "INVALID_TOKEN" {
				status = http.StatusUnauthorized
			}
		case types.ErrorTypeNotFound:
			status = http.StatusNotFound
		case types.ErrorTypeConflict:
			status = http.StatusConflict
		case types.ErrorTypeExternal:
			status = http.StatusBadGateway
		}
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
