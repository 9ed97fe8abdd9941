package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/snipsafe/snipsafe/internal/auth"
	"github.com/snipsafe/snipsafe/internal/model"
	"github.com/snipsafe/snipsafe/internal/repository"
	"github.com/snipsafe/snipsafe/internal/service"
)

// SnippetHandler exposes the snippet lifecycle over HTTP. It parses
// requests and writes responses — every rule about who may do what lives
// in the service layer and the access evaluator, not here.
type SnippetHandler struct {
	snippets *service.SnippetService
	logger   *slog.Logger
}

// NewSnippetHandler creates a SnippetHandler.
func NewSnippetHandler(snippets *service.SnippetService, logger *slog.Logger) *SnippetHandler {
	return &SnippetHandler{snippets: snippets, logger: logger}
}

// createRequest is the JSON body for POST /api/snippets.
type createRequest struct {
	Title       string           `json:"title"`
	Content     string           `json:"content"`
	Language    string           `json:"language"`
	Description string           `json:"description"`
	Visibility  model.Visibility `json:"visibility"`
	Tags        []string         `json:"tags"`
}

// HandleCreate saves a new snippet.
//
// HTTP: POST /api/snippets
func (h *SnippetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid snippet JSON", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid JSON body"})
		return
	}

	detail, err := h.snippets.Create(r.Context(), userID, service.CreateInput{
		Title:       req.Title,
		Content:     req.Content,
		Language:    req.Language,
		Description: req.Description,
		Visibility:  req.Visibility,
		Tags:        req.Tags,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, detail)
}

// HandleGetByID returns a single snippet with the caller's sharing info
// and the pruned presence list.
//
// HTTP: GET /api/snippets/{id}
func (h *SnippetHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	detail, err := h.snippets.GetByID(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// HandleGetByShareID resolves a snippet through its share link and bumps
// the view counter. Works for anonymous callers when visibility allows.
//
// HTTP: GET /s/{shareID}  (OptionalAuth)
func (h *SnippetHandler) HandleGetByShareID(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	detail, err := h.snippets.GetByShareID(r.Context(), userID, r.PathValue("shareID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// updateRequest uses pointers so "field absent" and "field set to empty"
// stay distinguishable — only present fields are applied.
type updateRequest struct {
	Title       *string           `json:"title"`
	Content     *string           `json:"content"`
	Language    *string           `json:"language"`
	Description *string           `json:"description"`
	Visibility  *model.Visibility `json:"visibility"`
	Tags        *[]string         `json:"tags"`
}

// HandleUpdate modifies a snippet's whitelisted fields.
//
// HTTP: PUT /api/snippets/{id}
func (h *SnippetHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid JSON body"})
		return
	}

	detail, err := h.snippets.Update(r.Context(), userID, r.PathValue("id"), service.UpdateInput{
		Title:       req.Title,
		Content:     req.Content,
		Language:    req.Language,
		Description: req.Description,
		Visibility:  req.Visibility,
		Tags:        req.Tags,
	})
	if err != nil {
		writeErrorHidden(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// HandleDelete soft-deletes a snippet.
//
// HTTP: DELETE /api/snippets/{id}
func (h *SnippetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.snippets.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		writeErrorHidden(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "snippet deleted"})
}

// shareRequest is the JSON body for POST /api/snippets/{id}/share.
type shareRequest struct {
	Emails     []string         `json:"emails"`
	Usernames  []string         `json:"usernames"`
	Permission model.Permission `json:"permission"`
}

// HandleShare adds grants to the snippet's sharing ledger.
//
// HTTP: POST /api/snippets/{id}/share
//
// The response reports every requested target exactly once, across
// granted / alreadyShared / notFound.
func (h *SnippetHandler) HandleShare(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid JSON body"})
		return
	}
	if len(req.Emails) == 0 && len(req.Usernames) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "at least one email or username is required"})
		return
	}
	if req.Permission == "" {
		req.Permission = model.PermissionView
	}

	result, err := h.snippets.Share(r.Context(), userID, r.PathValue("id"), service.GrantRequest{
		Emails:     req.Emails,
		Usernames:  req.Usernames,
		Permission: req.Permission,
	})
	if err != nil {
		writeErrorHidden(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleSharingDetails lists the snippet's grants with resolved display
// names. Owner-only.
//
// HTTP: GET /api/snippets/{id}/share
func (h *SnippetHandler) HandleSharingDetails(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	grants, err := h.snippets.SharingDetails(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeErrorHidden(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

// HandleUnshare revokes a single grant.
//
// HTTP: DELETE /api/snippets/{id}/share/{grantID}
func (h *SnippetHandler) HandleUnshare(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.snippets.Unshare(r.Context(), userID, r.PathValue("id"), r.PathValue("grantID")); err != nil {
		writeErrorHidden(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "grant revoked"})
}

// joinRequest carries the client's opaque session token for presence.
type joinRequest struct {
	SessionToken string `json:"sessionToken"`
}

// HandleJoinView registers the caller as currently viewing the snippet.
// Clients re-POST this as their heartbeat.
//
// HTTP: POST /api/snippets/{id}/view
func (h *SnippetHandler) HandleJoinView(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req joinRequest
	// Body is optional — an empty session token is fine.
	_ = json.NewDecoder(r.Body).Decode(&req)

	viewers, err := h.snippets.JoinView(r.Context(), userID, r.PathValue("id"), req.SessionToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"viewers": viewers})
}

// HandleLeaveView removes the caller's presence entry.
//
// HTTP: DELETE /api/snippets/{id}/view
func (h *SnippetHandler) HandleLeaveView(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.snippets.LeaveView(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "left"})
}

// HandleViewers returns the pruned "currently viewing" list.
//
// HTTP: GET /api/snippets/{id}/viewers
func (h *SnippetHandler) HandleViewers(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	viewers, err := h.snippets.Viewers(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"viewers": viewers})
}

// HandleListMine returns the caller's own snippets.
//
// HTTP: GET /api/snippets?page=&limit=
func (h *SnippetHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	page, limit := pagination(r)

	result, err := h.snippets.ListMine(r.Context(), userID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleListOrganization returns org-browsable snippets.
//
// HTTP: GET /api/snippets/organization?page=&limit=
func (h *SnippetHandler) HandleListOrganization(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	page, limit := pagination(r)

	result, err := h.snippets.ListOrganization(r.Context(), userID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleListShared returns snippets shared with the caller.
//
// HTTP: GET /api/snippets/shared?page=&limit=
func (h *SnippetHandler) HandleListShared(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	page, limit := pagination(r)

	result, err := h.snippets.ListSharedWithMe(r.Context(), userID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleSearch filters snippets within the caller's organization.
//
// HTTP: GET /api/snippets/search?q=&language=&tags=a,b&author=&page=&limit=
func (h *SnippetHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	page, limit := pagination(r)
	q := r.URL.Query()

	var tags []string
	if raw := strings.TrimSpace(q.Get("tags")); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, strings.ToLower(t))
			}
		}
	}

	result, err := h.snippets.Search(r.Context(), userID, repository.SearchFilter{
		Query:    q.Get("q"),
		Language: strings.TrimSpace(q.Get("language")),
		Tags:     tags,
		Author:   strings.TrimSpace(q.Get("author")),
	}, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleStats returns the organization's top languages and tags.
//
// HTTP: GET /api/snippets/stats
func (h *SnippetHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	stats, err := h.snippets.Stats(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// pagination reads ?page= and ?limit=, tolerating absent or junk values —
// the service clamps them anyway.
func pagination(r *http.Request) (page, limit int) {
	q := r.URL.Query()
	page, _ = strconv.Atoi(q.Get("page"))
	limit, _ = strconv.Atoi(q.Get("limit"))
	return page, limit
}
