package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/opsdesk/patternd/internal/api"
	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/services"
	"github.com/opsdesk/patternd/internal/utils"
)

// TicketStore stores submitted tickets
type TicketStore interface {
	CreateTicket(ctx context.Context, ticket *database.Ticket) error
	GetTicket(ctx context.Context, id uint) (*database.Ticket, error)
}

// Dispatcher queues a stored ticket for pattern analysis
type Dispatcher interface {
	Dispatch(ticket *database.Ticket)
}

// TicketHandler accepts tickets from the helpdesk. Storing the ticket is the
// only synchronous step; analysis runs after the response is written.
type TicketHandler struct {
	store      TicketStore
	classifier services.DepartmentClassifier
	dispatcher Dispatcher
}

// NewTicketHandler creates a ticket handler. classifier may be nil, in which
// case submissions must carry a department.
func NewTicketHandler(store TicketStore, classifier services.DepartmentClassifier, dispatcher Dispatcher) *TicketHandler {
	return &TicketHandler{store: store, classifier: classifier, dispatcher: dispatcher}
}

// SetupRoutes registers POST /api/tickets behind auth
func (h *TicketHandler) SetupRoutes(mux *http.ServeMux, auth func(http.HandlerFunc) http.HandlerFunc) {
	handler := h.handleCreateTicket
	if auth != nil {
		handler = auth(handler)
	}
	mux.HandleFunc("POST /api/tickets", handler)
}

// handleCreateTicket handles POST /api/tickets
func (h *TicketHandler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTicketRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	if _, err := h.store.GetTicket(r.Context(), req.ID); err == nil {
		api.RespondErrorWithCode(w, http.StatusConflict, "duplicate_ticket", "Ticket already submitted")
		return
	} else if !errors.Is(err, database.ErrNotFound) {
		log.Printf("TicketHandler: Failed to look up ticket %d: %v", req.ID, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to store ticket")
		return
	}

	department, ok := h.department(w, r, req)
	if !ok {
		return
	}

	ticket := api.TicketFromRequest(req, department)
	if err := h.store.CreateTicket(r.Context(), ticket); err != nil {
		log.Printf("TicketHandler: Failed to store ticket %d: %v", req.ID, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to store ticket")
		return
	}

	h.dispatcher.Dispatch(ticket)

	api.RespondJSON(w, http.StatusAccepted, api.CreateTicketResponse{
		TicketID:   ticket.ID,
		Department: ticket.Department,
		Status:     "accepted",
	})
}

// department returns the submitted department, or asks the classifier.
// A classifier failure files the ticket under General.
func (h *TicketHandler) department(w http.ResponseWriter, r *http.Request, req api.CreateTicketRequest) (string, bool) {
	if req.Department != "" {
		return req.Department, true
	}
	if h.classifier == nil {
		api.RespondValidationError(w, map[string]string{"department": "is required"})
		return "", false
	}

	dept, err := h.classifier.Classify(r.Context(), req.Title, req.Description)
	if err != nil {
		log.Printf("TicketHandler: Classifier failed for ticket %d (%s), using %s: %v",
			req.ID, utils.EscapeForLogging(req.Title, 60), database.DepartmentGeneral, err)
		return database.DepartmentGeneral, true
	}
	return dept, true
}
