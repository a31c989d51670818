package membership

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"librarium/internal/web"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the member endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/members", func(r chi.Router) {
		r.Post("/", h.handleRegisterMember)
		r.Get("/", h.handleListMembers)
		r.Get("/by-email", h.handleGetMemberByEmail)
		r.Get("/{id}", h.handleGetMember)
	})
}

func (h *Handler) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var in MemberInput
	if err := web.Decode(r, &in); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	member, created, err := h.service.RegisterMember(r.Context(), in)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	web.JSON(w, status, member)
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.ListMembers(r.Context())
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, members)
}

func (h *Handler) handleGetMemberByEmail(w http.ResponseWriter, r *http.Request) {
	member, err := h.service.GetMemberByEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, member)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	member, err := h.service.GetMember(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, member)
}
