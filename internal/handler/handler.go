// Package handler содержит HTTP-обработчики API аукциона проектов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Aryan10022006/enactus/internal/middleware"
	"github.com/Aryan10022006/enactus/internal/model"
	"github.com/Aryan10022006/enactus/internal/pubsub"
	"github.com/Aryan10022006/enactus/internal/repository"
	"github.com/Aryan10022006/enactus/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Register(ctx context.Context, name, teamCode string) (*model.User, error)
	User(ctx context.Context, id string) (*model.User, error)
	Users(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, id string) error
	SetTeamMember(ctx context.Context, id string, isTeamMember bool) error
	PlaceBid(ctx context.Context, userID, projectID string, amount int64) (int64, error)
	RemoveBid(ctx context.Context, userID, projectID string) (int64, error)
	AddProject(ctx context.Context, name, description string) (*model.Project, error)
	Projects(ctx context.Context) ([]model.Project, error)
	Leaderboard(ctx context.Context) ([]model.ProjectStanding, error)
	EventState(ctx context.Context) (*model.EventState, error)
	OpenRegistration(ctx context.Context) (*model.EventState, error)
	CloseRegistration(ctx context.Context) error
	StartPitch(ctx context.Context, projectID string) error
	EndPitch(ctx context.Context) error
	DistributeWallets(ctx context.Context, totalBudget int64, teamShare float64) (int, int, error)
	ResetUserWallet(ctx context.Context, userID string, totalBudget int64, teamShare float64) (int64, error)
	Subscribe() (<-chan pubsub.Topic, func())
}

// Handler реализует HTTP-обработчики API аукциона проектов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	adminPassword  string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, adminPassword string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		adminPassword:  adminPassword,
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	TeamCode string `json:"team_code,omitempty"`
}

type userResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	IsTeamMember      bool   `json:"is_team_member"`
	Wallet            int64  `json:"wallet"`
	HasReceivedWallet bool   `json:"has_received_wallet"`
	RegisteredAt      string `json:"registered_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:                u.ID,
		Name:              u.Name,
		IsTeamMember:      u.IsTeamMember,
		Wallet:            u.Wallet,
		HasReceivedWallet: u.HasReceivedWallet,
		RegisteredAt:      u.RegisteredAt.Format(time.RFC3339),
	}
}

type bidResponse struct {
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	Amount       int64  `json:"amount"`
	IsTeamMember bool   `json:"is_team_member"`
	PlacedAt     string `json:"placed_at"`
}

func toBidResponses(bids []model.Bid) []bidResponse {
	resp := make([]bidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, bidResponse{
			UserID:       b.UserID,
			UserName:     b.UserName,
			Amount:       b.Amount,
			IsTeamMember: b.IsTeamMember,
			PlacedAt:     b.PlacedAt.Format(time.RFC3339),
		})
	}
	return resp
}

type projectResponse struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Bids        []bidResponse `json:"bids"`
	CreatedAt   string        `json:"created_at"`
}

func toProjectResponse(p *model.Project) projectResponse {
	return projectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Bids:        toBidResponses(p.Bids),
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

type stateResponse struct {
	RegistrationOpen      bool    `json:"registration_open"`
	CurrentPitchID        *string `json:"current_pitch_id"`
	RegistrationExpiresAt *string `json:"registration_expires_at,omitempty"`
}

func toStateResponse(s *model.EventState) stateResponse {
	resp := stateResponse{
		RegistrationOpen: s.RegistrationOpen,
		CurrentPitchID:   s.CurrentPitchID,
	}
	if s.RegistrationExpiresAt != nil {
		v := s.RegistrationExpiresAt.Format(time.RFC3339)
		resp.RegistrationExpiresAt = &v
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// Register регистрирует нового участника и устанавливает cookie сессии.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.Register(r.Context(), req.Name, req.TeamCode)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidName):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, service.ErrRegistrationClosed):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		case errors.Is(err, service.ErrWrongTeamCode):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		default:
			h.logger.Error("register error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.authMiddleware.SetAuthCookie(w, user.ID)
	h.writeJSON(w, http.StatusOK, toUserResponse(user))
}

// GetMe возвращает текущего участника по cookie сессии.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	user, err := h.service.User(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("get me error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toUserResponse(user))
}

// GetState возвращает текущее состояние мероприятия.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.EventState(r.Context())
	if err != nil {
		h.logger.Error("get state error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toStateResponse(state))
}

// GetProjects возвращает все проекты со ставками.
func (h *Handler) GetProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.service.Projects(r.Context())
	if err != nil {
		h.logger.Error("get projects error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]projectResponse, 0, len(projects))
	for i := range projects {
		resp = append(resp, toProjectResponse(&projects[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type standingResponse struct {
	ProjectID   string        `json:"project_id"`
	ProjectName string        `json:"project_name"`
	TotalRaised int64         `json:"total_raised"`
	BidderCount int           `json:"bidder_count"`
	Bids        []bidResponse `json:"bids"`
}

// GetLeaderboard возвращает проекты в порядке собранных ставок.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	standings, err := h.service.Leaderboard(r.Context())
	if err != nil {
		h.logger.Error("get leaderboard error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]standingResponse, 0, len(standings))
	for _, st := range standings {
		resp = append(resp, standingResponse{
			ProjectID:   st.ProjectID,
			ProjectName: st.ProjectName,
			TotalRaised: st.TotalRaised,
			BidderCount: st.BidderCount,
			Bids:        toBidResponses(st.Bids),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type bidRequest struct {
	Amount int64 `json:"amount"`
}

type walletResponse struct {
	Wallet int64 `json:"wallet"`
}

// PlaceBid размещает или обновляет ставку текущего участника.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	projectID := chi.URLParam(r, "projectID")

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	wallet, err := h.service.PlaceBid(r.Context(), userID, projectID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, service.ErrPitchNotActive):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		case errors.Is(err, repository.ErrInsufficientFunds):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, repository.ErrUserNotFound), errors.Is(err, repository.ErrProjectNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrBidConflict):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("place bid error", zap.Error(err),
				zap.String("userID", userID), zap.String("projectID", projectID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, walletResponse{Wallet: wallet})
}

// RemoveBid отзывает ставку текущего участника.
func (h *Handler) RemoveBid(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	projectID := chi.URLParam(r, "projectID")

	wallet, err := h.service.RemoveBid(r.Context(), userID, projectID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound), errors.Is(err, repository.ErrProjectNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("remove bid error", zap.Error(err),
				zap.String("userID", userID), zap.String("projectID", projectID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, walletResponse{Wallet: wallet})
}
