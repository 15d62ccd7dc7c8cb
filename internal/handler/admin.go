package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Aryan10022006/enactus/internal/repository"
	"github.com/Aryan10022006/enactus/internal/service"
)

type adminLoginRequest struct {
	Password string `json:"password"`
}

// AdminLogin проверяет пароль администратора и устанавливает административный cookie.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.adminPassword)) != 1 {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.authMiddleware.SetAdminCookie(w)
	w.WriteHeader(http.StatusOK)
}

// OpenRegistration открывает окно регистрации.
func (h *Handler) OpenRegistration(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.OpenRegistration(r.Context())
	if err != nil {
		h.logger.Error("open registration error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toStateResponse(state))
}

// CloseRegistration закрывает окно регистрации досрочно.
func (h *Handler) CloseRegistration(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CloseRegistration(r.Context()); err != nil {
		h.logger.Error("close registration error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type addProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AddProject добавляет новый проект.
func (h *Handler) AddProject(w http.ResponseWriter, r *http.Request) {
	var req addProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.AddProject(r.Context(), req.Name, req.Description)
	if err != nil {
		if errors.Is(err, service.ErrInvalidName) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("add project error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, toProjectResponse(p))
}

type startPitchRequest struct {
	ProjectID string `json:"project_id"`
}

// StartPitch делает проект активным питчем.
func (h *Handler) StartPitch(w http.ResponseWriter, r *http.Request) {
	var req startPitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	projectID := req.ProjectID

	if err := h.service.StartPitch(r.Context(), projectID); err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("start pitch error", zap.Error(err), zap.String("projectID", projectID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// EndPitch завершает активный питч.
func (h *Handler) EndPitch(w http.ResponseWriter, r *http.Request) {
	if err := h.service.EndPitch(r.Context()); err != nil {
		h.logger.Error("end pitch error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type budgetRequest struct {
	TotalBudget    int64   `json:"total_budget,omitempty"`
	TeamPercentage float64 `json:"team_percentage,omitempty"`
}

type distributeResponse struct {
	TeamCredited     int `json:"team_credited"`
	AttendeeCredited int `json:"attendee_credited"`
}

// DistributeWallets раздаёт кошельки участникам, ещё не получившим их.
func (h *Handler) DistributeWallets(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	teamCredited, attendeeCredited, err := h.service.DistributeWallets(r.Context(), req.TotalBudget, req.TeamPercentage)
	if err != nil {
		if errors.Is(err, service.ErrRegistrationOpen) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		h.logger.Error("distribute wallets error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, distributeResponse{
		TeamCredited:     teamCredited,
		AttendeeCredited: attendeeCredited,
	})
}

// GetUsers возвращает список всех участников.
func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.Users(r.Context())
	if err != nil {
		h.logger.Error("get users error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ResetUserWallet снимает ставки участника и пересчитывает его кошелёк.
// Необязательные параметры бюджета в теле позволяют сбросить по тем же
// числам, с которыми проводилась раздача.
func (h *Handler) ResetUserWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req budgetRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	wallet, err := h.service.ResetUserWallet(r.Context(), userID, req.TotalBudget, req.TeamPercentage)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("reset wallet error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, walletResponse{Wallet: wallet})
}

type setTeamRequest struct {
	IsTeamMember bool `json:"is_team_member"`
}

// SetTeamMember переключает роль участника.
func (h *Handler) SetTeamMember(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req setTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetTeamMember(r.Context(), userID, req.IsTeamMember); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("set team member error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteUser удаляет участника вместе со всеми его ставками.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.service.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("delete user error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
