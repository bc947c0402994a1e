package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/opsdesk/patternd/internal/api"
	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/middleware"
	"github.com/opsdesk/patternd/internal/services"
)

// PatternHandler serves the pattern dashboard: analytics, clusters, alerts,
// spam review and incident escalation. Administrators see every department;
// department members see their own.
type PatternHandler struct {
	patterns  *services.PatternService
	incidents *services.IncidentEscalator
}

// NewPatternHandler creates a pattern handler
func NewPatternHandler(patterns *services.PatternService, incidents *services.IncidentEscalator) *PatternHandler {
	return &PatternHandler{patterns: patterns, incidents: incidents}
}

// SetupRoutes registers the /api/patterns routes
func (h *PatternHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/patterns/analytics", h.handleAnalytics)

	mux.HandleFunc("GET /api/patterns/clusters", h.handleListClusters)
	mux.HandleFunc("GET /api/patterns/clusters/{id}", h.handleGetCluster)
	mux.HandleFunc("POST /api/patterns/clusters/{id}/deactivate", middleware.RequireAdministrator(h.handleDeactivateCluster))

	mux.HandleFunc("GET /api/patterns/alerts", h.handleListAlerts)
	mux.HandleFunc("POST /api/patterns/alerts/{id}/acknowledge", h.handleAcknowledgeAlert)

	mux.HandleFunc("GET /api/patterns/spam", h.handleListSpam)
	mux.HandleFunc("POST /api/patterns/spam/{id}/review", h.handleReviewSpam)

	mux.HandleFunc("GET /api/patterns/incidents", h.handleListIncidents)
	mux.HandleFunc("POST /api/patterns/incidents", h.handleEscalate)
	mux.HandleFunc("GET /api/patterns/incidents/{id}", h.handleGetIncident)
	mux.HandleFunc("PATCH /api/patterns/incidents/{id}", h.handleUpdateIncident)
}

// scope returns the department filter for the caller; "" means all departments.
// It writes a 403 and returns false for roles without access.
func scope(w http.ResponseWriter, r *http.Request) (string, bool) {
	dept, err := middleware.ScopeDepartment(middleware.GetClaimsFromContext(r.Context()), r.URL.Query().Get("department"))
	if err != nil {
		api.RespondError(w, http.StatusForbidden, "Access to pattern data requires the Administrator or Department Member role")
		return "", false
	}
	return dept, true
}

// canAccess reports whether the caller may act on a record of department
func canAccess(r *http.Request, department string) bool {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims.IsAdministrator() {
		return true
	}
	scoped, err := middleware.ScopeDepartment(claims, "")
	return err == nil && scoped == department
}

// respondServiceError maps service errors to HTTP responses
func respondServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, services.ErrClusterNotFound),
		errors.Is(err, services.ErrAlertNotFound),
		errors.Is(err, services.ErrSpamNotFound),
		errors.Is(err, services.ErrIncidentNotFound):
		api.RespondErrorWithCode(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, services.ErrClusterAlreadyInactive),
		errors.Is(err, services.ErrAlertAlreadyAcknowledged),
		errors.Is(err, services.ErrSpamAlreadyReviewed):
		api.RespondErrorWithCode(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, services.ErrInvalidReviewStatus),
		errors.Is(err, services.ErrInvalidIncidentStatus):
		api.RespondErrorWithCode(w, http.StatusUnprocessableEntity, "invalid_status", err.Error())
	default:
		log.Printf("PatternHandler: Failed to %s: %v", action, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return id, true
}

// handleAnalytics handles GET /api/patterns/analytics
func (h *PatternHandler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	dept, ok := scope(w, r)
	if !ok {
		return
	}

	analytics, err := h.patterns.Analytics(r.Context(), dept)
	if err != nil {
		respondServiceError(w, err, "load pattern analytics")
		return
	}
	api.RespondJSON(w, http.StatusOK, analytics)
}

// handleListClusters handles GET /api/patterns/clusters
func (h *PatternHandler) handleListClusters(w http.ResponseWriter, r *http.Request) {
	dept, ok := scope(w, r)
	if !ok {
		return
	}

	clusters, err := h.patterns.ListClusters(r.Context(), dept)
	if err != nil {
		respondServiceError(w, err, "list clusters")
		return
	}
	api.RespondJSON(w, http.StatusOK, api.Paginate(api.ClustersToListItems(clusters), api.ParsePagination(r)))
}

// handleGetCluster handles GET /api/patterns/clusters/{id}
func (h *PatternHandler) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	cluster, err := h.patterns.GetCluster(r.Context(), id)
	if err == nil && !canAccess(r, cluster.Department) {
		err = services.ErrClusterNotFound
	}
	if err != nil {
		respondServiceError(w, err, "get cluster")
		return
	}
	api.RespondJSON(w, http.StatusOK, cluster)
}

// handleDeactivateCluster handles POST /api/patterns/clusters/{id}/deactivate
func (h *PatternHandler) handleDeactivateCluster(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.patterns.DeactivateCluster(r.Context(), id); err != nil {
		respondServiceError(w, err, "deactivate cluster")
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "is_active": false})
}

// handleListAlerts handles GET /api/patterns/alerts
func (h *PatternHandler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	dept, ok := scope(w, r)
	if !ok {
		return
	}

	alerts, err := h.patterns.RecentAlerts(r.Context(), dept)
	if err != nil {
		respondServiceError(w, err, "list alerts")
		return
	}
	api.RespondJSON(w, http.StatusOK, api.Paginate(alerts, api.ParsePagination(r)))
}

// handleAcknowledgeAlert handles POST /api/patterns/alerts/{id}/acknowledge
func (h *PatternHandler) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	alert, err := h.patterns.GetAlert(r.Context(), id)
	if err == nil && !canAccess(r, alert.Department) {
		err = services.ErrAlertNotFound
	}
	if err == nil {
		alert, err = h.patterns.AcknowledgeAlert(r.Context(), id, middleware.GetUserFromContext(r.Context()))
	}
	if err != nil {
		respondServiceError(w, err, "acknowledge alert")
		return
	}
	api.RespondJSON(w, http.StatusOK, alert)
}

// handleListSpam handles GET /api/patterns/spam
func (h *PatternHandler) handleListSpam(w http.ResponseWriter, r *http.Request) {
	dept, ok := scope(w, r)
	if !ok {
		return
	}

	detections, err := h.patterns.PendingSpam(r.Context(), dept)
	if err != nil {
		respondServiceError(w, err, "list spam detections")
		return
	}
	api.RespondJSON(w, http.StatusOK, api.Paginate(detections, api.ParsePagination(r)))
}

// handleReviewSpam handles POST /api/patterns/spam/{id}/review
func (h *PatternHandler) handleReviewSpam(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req api.ReviewSpamRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	detection, err := h.patterns.GetSpamDetection(r.Context(), id)
	if err == nil && !canAccess(r, detection.Department) {
		err = services.ErrSpamNotFound
	}
	if err == nil {
		detection, err = h.patterns.ReviewSpam(r.Context(), id, database.SpamStatus(req.Status), middleware.GetUserFromContext(r.Context()))
	}
	if err != nil {
		respondServiceError(w, err, "review spam detection")
		return
	}
	api.RespondJSON(w, http.StatusOK, detection)
}

// handleListIncidents handles GET /api/patterns/incidents
func (h *PatternHandler) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	dept, ok := scope(w, r)
	if !ok {
		return
	}

	incidents, err := h.incidents.ListIncidents(r.Context(), dept)
	if err != nil {
		respondServiceError(w, err, "list incidents")
		return
	}
	api.RespondJSON(w, http.StatusOK, api.Paginate(incidents, api.ParsePagination(r)))
}

// handleEscalate handles POST /api/patterns/incidents. It answers 201 when
// it created the incident and 200 when the cluster was already escalated.
func (h *PatternHandler) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req api.EscalateClusterRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	cluster, err := h.patterns.GetCluster(r.Context(), req.ClusterID)
	if err == nil && !canAccess(r, cluster.Department) {
		err = services.ErrClusterNotFound
	}
	if err != nil {
		respondServiceError(w, err, "escalate cluster")
		return
	}

	incident, created, err := h.incidents.Escalate(r.Context(), req.ClusterID, middleware.GetUserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err, "escalate cluster")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	api.RespondJSON(w, status, api.EscalateClusterResponse{Incident: incident, Created: created})
}

// handleGetIncident handles GET /api/patterns/incidents/{id}
func (h *PatternHandler) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	incident, err := h.incidents.GetIncident(r.Context(), id)
	if err == nil && !canAccess(r, incident.Department) {
		err = services.ErrIncidentNotFound
	}
	if err != nil {
		respondServiceError(w, err, "get incident")
		return
	}
	api.RespondJSON(w, http.StatusOK, incident)
}

// handleUpdateIncident handles PATCH /api/patterns/incidents/{id}
func (h *PatternHandler) handleUpdateIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req api.UpdateIncidentRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	upd := services.IncidentUpdate{
		AssignedTo:          req.AssignedTo,
		EstimatedResolution: req.EstimatedResolution,
		PublicStatement:     req.PublicStatement,
	}
	if req.Status != nil {
		status := database.IncidentStatus(*req.Status)
		upd.Status = &status
	}
	if upd == (services.IncidentUpdate{}) {
		api.RespondValidationError(w, map[string]string{"_": "at least one field is required"})
		return
	}

	incident, err := h.incidents.GetIncident(r.Context(), id)
	if err == nil && !canAccess(r, incident.Department) {
		err = services.ErrIncidentNotFound
	}
	if err == nil {
		incident, err = h.incidents.UpdateIncident(r.Context(), id, upd)
	}
	if err != nil {
		respondServiceError(w, err, "update incident")
		return
	}

	log.Printf("PatternHandler: Incident %s updated by %s", incident.UUID, middleware.GetUserFromContext(r.Context()))
	api.RespondJSON(w, http.StatusOK, incident)
}
