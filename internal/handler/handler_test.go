package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Aryan10022006/enactus/internal/middleware"
	"github.com/Aryan10022006/enactus/internal/model"
	"github.com/Aryan10022006/enactus/internal/pubsub"
	"github.com/Aryan10022006/enactus/internal/repository"
	"github.com/Aryan10022006/enactus/internal/service"
)

type stubService struct {
	registerUser *model.User
	registerErr  error

	user    *model.User
	userErr error

	users    []model.User
	usersErr error

	deleteUserErr error
	setTeamErr    error

	placeBidWallet int64
	placeBidErr    error

	removeBidWallet int64
	removeBidErr    error

	addProject    *model.Project
	addProjectErr error

	projects    []model.Project
	projectsErr error

	standings    []model.ProjectStanding
	standingsErr error

	state    *model.EventState
	stateErr error

	startPitchErr error
	endPitchErr   error

	distributeTeam      int
	distributeAttendee  int
	distributeErr       error
	distributeGotBudget int64
	distributeGotShare  float64

	resetWallet    int64
	resetErr       error
	resetGotBudget int64
	resetGotShare  float64

	broker *pubsub.Broker
}

func (s *stubService) Register(ctx context.Context, name, teamCode string) (*model.User, error) {
	return s.registerUser, s.registerErr
}

func (s *stubService) User(ctx context.Context, id string) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) Users(ctx context.Context) ([]model.User, error) {
	return s.users, s.usersErr
}

func (s *stubService) DeleteUser(ctx context.Context, id string) error {
	return s.deleteUserErr
}

func (s *stubService) SetTeamMember(ctx context.Context, id string, isTeamMember bool) error {
	return s.setTeamErr
}

func (s *stubService) PlaceBid(ctx context.Context, userID, projectID string, amount int64) (int64, error) {
	return s.placeBidWallet, s.placeBidErr
}

func (s *stubService) RemoveBid(ctx context.Context, userID, projectID string) (int64, error) {
	return s.removeBidWallet, s.removeBidErr
}

func (s *stubService) AddProject(ctx context.Context, name, description string) (*model.Project, error) {
	return s.addProject, s.addProjectErr
}

func (s *stubService) Projects(ctx context.Context) ([]model.Project, error) {
	return s.projects, s.projectsErr
}

func (s *stubService) Leaderboard(ctx context.Context) ([]model.ProjectStanding, error) {
	return s.standings, s.standingsErr
}

func (s *stubService) EventState(ctx context.Context) (*model.EventState, error) {
	return s.state, s.stateErr
}

func (s *stubService) OpenRegistration(ctx context.Context) (*model.EventState, error) {
	return s.state, s.stateErr
}

func (s *stubService) CloseRegistration(ctx context.Context) error {
	return s.stateErr
}

func (s *stubService) StartPitch(ctx context.Context, projectID string) error {
	return s.startPitchErr
}

func (s *stubService) EndPitch(ctx context.Context) error {
	return s.endPitchErr
}

func (s *stubService) DistributeWallets(ctx context.Context, totalBudget int64, teamShare float64) (int, int, error) {
	s.distributeGotBudget = totalBudget
	s.distributeGotShare = teamShare
	return s.distributeTeam, s.distributeAttendee, s.distributeErr
}

func (s *stubService) ResetUserWallet(ctx context.Context, userID string, totalBudget int64, teamShare float64) (int64, error) {
	s.resetGotBudget = totalBudget
	s.resetGotShare = teamShare
	return s.resetWallet, s.resetErr
}

func (s *stubService) Subscribe() (<-chan pubsub.Topic, func()) {
	if s.broker == nil {
		s.broker = pubsub.NewBroker()
	}
	return s.broker.Subscribe()
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, "admin-pass")
}

func authCookie(t *testing.T, h *Handler, userID string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, userID)
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no auth cookie set")
	}
	return cookies[0]
}

func adminCookie(t *testing.T, h *Handler) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	h.authMiddleware.SetAdminCookie(rec)
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no admin cookie set")
	}
	return cookies[0]
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUser: &model.User{ID: "u1", Name: "Alice", RegisteredAt: time.Now()},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(registerRequest{Name: "Alice"})
	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("auth cookie not set on register")
	}
}

func TestRegister_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid name", service.ErrInvalidName, http.StatusBadRequest},
		{"registration closed", service.ErrRegistrationClosed, http.StatusForbidden},
		{"wrong team code", service.ErrWrongTeamCode, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{registerErr: tt.err}
			h := newTestHandler(t, svc)
			router := h.SetupRouter()

			body, _ := json.Marshal(registerRequest{Name: "X"})
			req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Result().StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Result().StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestGetMe_RequiresCookie(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetMe_Success(t *testing.T) {
	svc := &stubService{
		user: &model.User{ID: "u1", Name: "Alice", Wallet: 5000, RegisteredAt: time.Now()},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(authCookie(t, h, "u1"))
	req.Header.Set("Accept-Encoding", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp userResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "u1" || resp.Wallet != 5000 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPlaceBid_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid amount", service.ErrInvalidAmount, http.StatusBadRequest},
		{"pitch not active", service.ErrPitchNotActive, http.StatusForbidden},
		{"insufficient funds", repository.ErrInsufficientFunds, http.StatusPaymentRequired},
		{"project not found", repository.ErrProjectNotFound, http.StatusNotFound},
		{"bid conflict", repository.ErrBidConflict, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{placeBidErr: tt.err}
			h := newTestHandler(t, svc)
			router := h.SetupRouter()

			body, _ := json.Marshal(bidRequest{Amount: 100})
			req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/bid", bytes.NewReader(body))
			req.AddCookie(authCookie(t, h, "u1"))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Result().StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Result().StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestPlaceBid_ReturnsWallet(t *testing.T) {
	svc := &stubService{placeBidWallet: 4000}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(bidRequest{Amount: 1000})
	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/bid", bytes.NewReader(body))
	req.AddCookie(authCookie(t, h, "u1"))
	req.Header.Set("Accept-Encoding", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp walletResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Wallet != 4000 {
		t.Fatalf("wallet = %d, want 4000", resp.Wallet)
	}
}

func TestRemoveBid_ReturnsWallet(t *testing.T) {
	svc := &stubService{removeBidWallet: 5000}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodDelete, "/api/projects/p1/bid", nil)
	req.AddCookie(authCookie(t, h, "u1"))
	req.Header.Set("Accept-Encoding", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp walletResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Wallet != 5000 {
		t.Fatalf("wallet = %d, want 5000", resp.Wallet)
	}
}

func TestAdminLogin(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	body, _ := json.Marshal(adminLoginRequest{Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}

	body, _ = json.Marshal(adminLoginRequest{Password: "admin-pass"})
	req = httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("admin cookie not set on login")
	}
}

func TestAdminRoutes_RequireAdminCookie(t *testing.T) {
	h := newTestHandler(t, &stubService{state: &model.EventState{}})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/registration/open", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without cookie = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}

	// Cookie участника не даёт административного доступа.
	req = httptest.NewRequest(http.MethodPost, "/api/admin/registration/open", nil)
	userCookie := authCookie(t, h, "u1")
	userCookie.Name = "admin_token"
	req.AddCookie(userCookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with user cookie = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/admin/registration/open", nil)
	req.AddCookie(adminCookie(t, h))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status with admin cookie = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
}

func TestDistributeWallets_Statuses(t *testing.T) {
	svc := &stubService{distributeTeam: 3, distributeAttendee: 2}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/wallets/distribute", nil)
	req.AddCookie(adminCookie(t, h))
	req.Header.Set("Accept-Encoding", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp distributeResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TeamCredited != 3 || resp.AttendeeCredited != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	svc.distributeErr = service.ErrRegistrationOpen
	req = httptest.NewRequest(http.MethodPost, "/api/admin/wallets/distribute", nil)
	req.AddCookie(adminCookie(t, h))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status while open = %d, want %d", rec.Result().StatusCode, http.StatusForbidden)
	}
}

func TestGetState(t *testing.T) {
	pitch := "p1"
	expires := time.Now().Add(5 * time.Minute)
	svc := &stubService{
		state: &model.EventState{
			RegistrationOpen:      true,
			CurrentPitchID:        &pitch,
			RegistrationExpiresAt: &expires,
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Accept-Encoding", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp stateResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.RegistrationOpen || resp.CurrentPitchID == nil || *resp.CurrentPitchID != "p1" {
		t.Fatalf("unexpected state: %+v", resp)
	}
	if resp.RegistrationExpiresAt == nil {
		t.Fatalf("expiry missing: %+v", resp)
	}
}

func TestStream_DeliversEvents(t *testing.T) {
	svc := &stubService{broker: pubsub.NewBroker()}
	h := newTestHandler(t, svc)
	srv := httptest.NewServer(h.SetupRouter())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q, want text/event-stream", ct)
	}

	reader := bufio.NewReader(res.Body)

	// Первое событие приходит сразу при подключении.
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read initial event: %v", err)
	}
	if !strings.HasPrefix(line, "event: ") {
		t.Fatalf("unexpected initial line: %q", line)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		svc.broker.Publish(pubsub.TopicProjects)
	}()

	for {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if strings.TrimSpace(line) == "event: "+string(pubsub.TopicProjects) {
			return
		}
	}
}

func TestDistributeWallets_BodyParams(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body := strings.NewReader(`{"total_budget":50000,"team_percentage":0.5}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/wallets/distribute", body)
	req.AddCookie(adminCookie(t, h))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
	if svc.distributeGotBudget != 50000 || svc.distributeGotShare != 0.5 {
		t.Fatalf("service got (%d, %v), want (50000, 0.5)",
			svc.distributeGotBudget, svc.distributeGotShare)
	}
}

func TestResetUserWallet_BodyParams(t *testing.T) {
	svc := &stubService{resetWallet: 25000}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body := strings.NewReader(`{"total_budget":50000,"team_percentage":0.5}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/users/u1/reset", body)
	req.AddCookie(adminCookie(t, h))
	req.Header.Set("Accept-Encoding", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.resetGotBudget != 50000 || svc.resetGotShare != 0.5 {
		t.Fatalf("service got (%d, %v), want (50000, 0.5)",
			svc.resetGotBudget, svc.resetGotShare)
	}

	var resp walletResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Wallet != 25000 {
		t.Fatalf("wallet = %d, want 25000", resp.Wallet)
	}
}

func TestResetUserWallet_EmptyBodyUsesDefaults(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/users/u1/reset", nil)
	req.AddCookie(adminCookie(t, h))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
	// Нулевые значения заменяются настройками уже в сервисе.
	if svc.resetGotBudget != 0 || svc.resetGotShare != 0 {
		t.Fatalf("service got (%d, %v), want zeros",
			svc.resetGotBudget, svc.resetGotShare)
	}
}

func TestStartPitch_Route(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body := strings.NewReader(`{"project_id":"p1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/pitch/start", body)
	req.AddCookie(adminCookie(t, h))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/admin/pitch/start", strings.NewReader(`{}`))
	req.AddCookie(adminCookie(t, h))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status without project_id = %d, want %d",
			rec.Result().StatusCode, http.StatusBadRequest)
	}

	svc.startPitchErr = repository.ErrProjectNotFound
	req = httptest.NewRequest(http.MethodPost, "/api/admin/pitch/start", strings.NewReader(`{"project_id":"missing"}`))
	req.AddCookie(adminCookie(t, h))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status for unknown project = %d, want %d",
			rec.Result().StatusCode, http.StatusNotFound)
	}
}
