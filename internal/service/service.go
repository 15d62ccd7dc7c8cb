// Package service реализует бизнес-логику аукциона проектов.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/Aryan10022006/enactus/internal/model"
	"github.com/Aryan10022006/enactus/internal/pubsub"
	"github.com/Aryan10022006/enactus/internal/repository"
	"github.com/Aryan10022006/enactus/internal/validation"
)

var (
	// ErrRegistrationClosed возвращается при попытке регистрации вне окна.
	ErrRegistrationClosed = errors.New("registration is closed")
	// ErrRegistrationOpen возвращается при раздаче кошельков до закрытия регистрации.
	ErrRegistrationOpen = errors.New("registration is still open")
	// ErrWrongTeamCode возвращается при регистрации члена команды с неверным кодом.
	ErrWrongTeamCode = errors.New("wrong team code")
	// ErrPitchNotActive возвращается при ставке на проект, питч которого не идёт.
	ErrPitchNotActive = errors.New("pitch is not active for this project")
	// ErrInvalidName возвращается при пустом или слишком длинном имени.
	ErrInvalidName = errors.New("invalid name")
	// ErrInvalidAmount возвращается при неположительной сумме ставки.
	ErrInvalidAmount = errors.New("bid amount must be positive")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, id string) error
	SetTeamMember(ctx context.Context, id string, isTeamMember bool) error
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	UpsertBid(ctx context.Context, userID, projectID string, amount int64) (int64, error)
	RemoveBid(ctx context.Context, userID, projectID string) (int64, bool, error)
	DistributeWallets(ctx context.Context, totalBudget int64, teamShare float64) (int, int, error)
	ResetUserWallet(ctx context.Context, userID string, totalBudget int64, teamShare float64) (int64, error)
	GetEventState(ctx context.Context) (*model.EventState, error)
	SetRegistration(ctx context.Context, open bool, expiresAt *time.Time) error
	SetCurrentPitch(ctx context.Context, projectID *string) error
}

// Options задаёт параметры мероприятия по умолчанию.
type Options struct {
	TotalBudget        int64
	TeamShare          float64
	RegistrationWindow time.Duration
	TeamCode           string
}

// Service содержит бизнес-логику аукциона проектов.
type Service struct {
	repo   Repository
	broker *pubsub.Broker
	opts   Options
}

// NewService создаёт новый сервис с указанным репозиторием и брокером событий.
func NewService(repo Repository, broker *pubsub.Broker, opts Options) *Service {
	return &Service{
		repo:   repo,
		broker: broker,
		opts:   opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Subscribe возвращает канал уведомлений об изменениях данных.
func (s *Service) Subscribe() (<-chan pubsub.Topic, func()) {
	return s.broker.Subscribe()
}

func (s *Service) publish(topics ...pubsub.Topic) {
	for _, t := range topics {
		s.broker.Publish(t)
	}
}

// Register регистрирует нового участника. Регистрация члена команды требует
// верного кода команды; и та и другая возможны только в открытое окно.
func (s *Service) Register(ctx context.Context, name, teamCode string) (*model.User, error) {
	name = validation.NormalizeName(name)
	if !validation.IsValidName(name) {
		return nil, ErrInvalidName
	}

	state, err := s.EventState(ctx)
	if err != nil {
		return nil, err
	}
	if !state.RegistrationOpen {
		return nil, ErrRegistrationClosed
	}

	isTeamMember := false
	if teamCode != "" {
		if teamCode != s.opts.TeamCode {
			return nil, ErrWrongTeamCode
		}
		isTeamMember = true
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Name:         name,
		IsTeamMember: isTeamMember,
		RegisteredAt: time.Now(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.publish(pubsub.TopicUsers)
	return user, nil
}

// User возвращает участника по идентификатору.
func (s *Service) User(ctx context.Context, id string) (*model.User, error) {
	return s.repo.GetUser(ctx, id)
}

// Users возвращает список всех участников.
func (s *Service) Users(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

// DeleteUser удаляет участника вместе со всеми его ставками.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.publish(pubsub.TopicUsers, pubsub.TopicProjects)
	return nil
}

// SetTeamMember переключает роль участника. Существующие ставки сохраняют
// роль на момент их размещения.
func (s *Service) SetTeamMember(ctx context.Context, id string, isTeamMember bool) error {
	if err := s.repo.SetTeamMember(ctx, id, isTeamMember); err != nil {
		return err
	}
	s.publish(pubsub.TopicUsers)
	return nil
}

// PlaceBid размещает или обновляет ставку участника на проект с активным
// питчем. Возвращает новый остаток кошелька.
func (s *Service) PlaceBid(ctx context.Context, userID, projectID string, amount int64) (int64, error) {
	if !validation.IsValidBidAmount(amount) {
		return 0, ErrInvalidAmount
	}

	state, err := s.repo.GetEventState(ctx)
	if err != nil {
		return 0, err
	}
	if state.CurrentPitchID == nil || *state.CurrentPitchID != projectID {
		return 0, ErrPitchNotActive
	}

	var wallet int64
	backoff := retry.WithMaxRetries(2, retry.NewConstant(50*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		wallet, err = s.repo.UpsertBid(ctx, userID, projectID, amount)
		if errors.Is(err, repository.ErrBidConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return 0, err
	}

	s.publish(pubsub.TopicProjects, pubsub.TopicUsers)
	return wallet, nil
}

// RemoveBid отзывает ставку участника и возвращает её сумму в кошелёк.
// Отзыв возможен в любой момент, не только во время питча.
func (s *Service) RemoveBid(ctx context.Context, userID, projectID string) (int64, error) {
	wallet, removed, err := s.repo.RemoveBid(ctx, userID, projectID)
	if err != nil {
		return 0, err
	}
	if removed {
		s.publish(pubsub.TopicProjects, pubsub.TopicUsers)
	}
	return wallet, nil
}

// AddProject добавляет новый проект.
func (s *Service) AddProject(ctx context.Context, name, description string) (*model.Project, error) {
	name = validation.NormalizeName(name)
	if !validation.IsValidName(name) {
		return nil, ErrInvalidName
	}
	if description == "" {
		description = "No description provided"
	}

	p := &model.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, err
	}

	s.publish(pubsub.TopicProjects)
	return p, nil
}

// Project возвращает проект со ставками.
func (s *Service) Project(ctx context.Context, id string) (*model.Project, error) {
	return s.repo.GetProject(ctx, id)
}

// Projects возвращает все проекты со ставками.
func (s *Service) Projects(ctx context.Context) ([]model.Project, error) {
	return s.repo.ListProjects(ctx)
}

// Leaderboard возвращает проекты, отсортированные по сумме собранных ставок.
func (s *Service) Leaderboard(ctx context.Context) ([]model.ProjectStanding, error) {
	projects, err := s.repo.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	standings := make([]model.ProjectStanding, 0, len(projects))
	for _, p := range projects {
		st := model.ProjectStanding{
			ProjectID:   p.ID,
			ProjectName: p.Name,
			BidderCount: len(p.Bids),
			Bids:        p.Bids,
		}
		for _, b := range p.Bids {
			st.TotalRaised += b.Amount
		}
		standings = append(standings, st)
	}

	for i := 1; i < len(standings); i++ {
		for j := i; j > 0 && standings[j-1].TotalRaised < standings[j].TotalRaised; j-- {
			standings[j-1], standings[j] = standings[j], standings[j-1]
		}
	}
	return standings, nil
}

// EventState возвращает текущее состояние мероприятия. Истёкшее окно
// регистрации закрывается здесь же, чтобы чтения видели согласованный флаг.
func (s *Service) EventState(ctx context.Context) (*model.EventState, error) {
	state, err := s.repo.GetEventState(ctx)
	if err != nil {
		return nil, err
	}

	if state.RegistrationOpen && state.RegistrationExpiresAt != nil && time.Now().After(*state.RegistrationExpiresAt) {
		if err := s.repo.SetRegistration(ctx, false, nil); err != nil {
			return nil, err
		}
		state.RegistrationOpen = false
		state.RegistrationExpiresAt = nil
		s.publish(pubsub.TopicState)
	}

	return state, nil
}

// OpenRegistration открывает окно регистрации на настроенный срок.
func (s *Service) OpenRegistration(ctx context.Context) (*model.EventState, error) {
	expires := time.Now().Add(s.opts.RegistrationWindow)
	if err := s.repo.SetRegistration(ctx, true, &expires); err != nil {
		return nil, err
	}
	s.publish(pubsub.TopicState)
	return s.repo.GetEventState(ctx)
}

// CloseRegistration закрывает окно регистрации досрочно.
func (s *Service) CloseRegistration(ctx context.Context) error {
	if err := s.repo.SetRegistration(ctx, false, nil); err != nil {
		return err
	}
	s.publish(pubsub.TopicState)
	return nil
}

// StartPitch делает проект активным питчем. Только на него можно ставить.
func (s *Service) StartPitch(ctx context.Context, projectID string) error {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return err
	}
	if err := s.repo.SetCurrentPitch(ctx, &projectID); err != nil {
		return err
	}
	s.publish(pubsub.TopicState)
	return nil
}

// EndPitch завершает активный питч.
func (s *Service) EndPitch(ctx context.Context) error {
	if err := s.repo.SetCurrentPitch(ctx, nil); err != nil {
		return err
	}
	s.publish(pubsub.TopicState)
	return nil
}

// DistributeWallets раздаёт кошельки ещё не получившим их участникам и
// возвращает число кредитованных членов команды и гостей. Нулевые параметры
// заменяются настройками мероприятия. Раздача до закрытия регистрации
// запрещена: состав группы ещё меняется.
func (s *Service) DistributeWallets(ctx context.Context, totalBudget int64, teamShare float64) (int, int, error) {
	state, err := s.EventState(ctx)
	if err != nil {
		return 0, 0, err
	}
	if state.RegistrationOpen {
		return 0, 0, ErrRegistrationOpen
	}

	if totalBudget <= 0 {
		totalBudget = s.opts.TotalBudget
	}
	if teamShare <= 0 {
		teamShare = s.opts.TeamShare
	}
	if teamShare > 1 {
		return 0, 0, fmt.Errorf("team share %v out of range", teamShare)
	}

	teamCredited, attendeeCredited, err := s.repo.DistributeWallets(ctx, totalBudget, teamShare)
	if err != nil {
		return 0, 0, err
	}

	s.publish(pubsub.TopicUsers)
	return teamCredited, attendeeCredited, nil
}

// ResetUserWallet снимает все ставки участника и выставляет его кошелёк в
// подушевую сумму, рассчитанную по текущему составу группы. Нулевые параметры
// бюджета заменяются настройками мероприятия, как и при раздаче: сброс после
// раздачи с нестандартными параметрами должен считаться по тем же числам.
func (s *Service) ResetUserWallet(ctx context.Context, userID string, totalBudget int64, teamShare float64) (int64, error) {
	if totalBudget <= 0 {
		totalBudget = s.opts.TotalBudget
	}
	if teamShare <= 0 {
		teamShare = s.opts.TeamShare
	}
	if teamShare > 1 {
		return 0, fmt.Errorf("team share %v out of range", teamShare)
	}

	wallet, err := s.repo.ResetUserWallet(ctx, userID, totalBudget, teamShare)
	if err != nil {
		return 0, err
	}
	s.publish(pubsub.TopicUsers, pubsub.TopicProjects)
	return wallet, nil
}

// StartRegistrationWatcher запускает фоновое закрытие истёкшего окна
// регистрации, чтобы состояние менялось и без входящих запросов.
func (s *Service) StartRegistrationWatcher(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.EventState(ctx)
			}
		}
	}()
}
