package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Aryan10022006/enactus/internal/model"
)

// MemoryRepository — хранилище в памяти процесса с теми же контрактами, что
// у PostgresRepository. Используется при запуске без DATABASE_URI (небольшое
// мероприятие в одном процессе) и в тестах движка ставок. Один мьютекс
// сериализует все операции, поэтому конкурентные ставки на одну пару
// (участник, проект) упорядочиваются так же, как блокировки строк в БД.
type MemoryRepository struct {
	mu       sync.Mutex
	users    map[string]*model.User
	userIDs  []string
	projects map[string]*model.Project
	projIDs  []string
	state    model.EventState
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[string]*model.User),
		projects: make(map[string]*model.Project),
	}
}

// Close освобождает ресурсы хранилища. Для памяти это no-op.
func (r *MemoryRepository) Close() error {
	return nil
}

// CreateUser создаёт запись нового участника.
func (r *MemoryRepository) CreateUser(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return ErrUserExists
	}

	u := *user
	r.users[u.ID] = &u
	r.userIDs = append(r.userIDs, u.ID)
	return nil
}

// GetUser возвращает участника по идентификатору.
func (r *MemoryRepository) GetUser(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

// ListUsers возвращает всех участников в порядке регистрации.
func (r *MemoryRepository) ListUsers(_ context.Context) ([]model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]model.User, 0, len(r.userIDs))
	for _, id := range r.userIDs {
		users = append(users, *r.users[id])
	}
	return users, nil
}

// DeleteUser удаляет участника и каскадом все его ставки.
func (r *MemoryRepository) DeleteUser(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return ErrUserNotFound
	}

	delete(r.users, id)
	for i, uid := range r.userIDs {
		if uid == id {
			r.userIDs = append(r.userIDs[:i], r.userIDs[i+1:]...)
			break
		}
	}

	for _, p := range r.projects {
		p.Bids = removeUserBids(p.Bids, id)
	}
	return nil
}

// SetTeamMember меняет роль участника.
func (r *MemoryRepository) SetTeamMember(_ context.Context, id string, isTeamMember bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.IsTeamMember = isTeamMember
	return nil
}

// CreateProject создаёт запись нового проекта.
func (r *MemoryRepository) CreateProject(_ context.Context, p *model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *p
	copied.Bids = append([]model.Bid(nil), p.Bids...)
	r.projects[copied.ID] = &copied
	r.projIDs = append(r.projIDs, copied.ID)
	return nil
}

// GetProject возвращает проект со ставками по убыванию суммы.
func (r *MemoryRepository) GetProject(_ context.Context, id string) (*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return copyProject(p), nil
}

// ListProjects возвращает все проекты со ставками в порядке создания.
func (r *MemoryRepository) ListProjects(_ context.Context) ([]model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	projects := make([]model.Project, 0, len(r.projIDs))
	for _, id := range r.projIDs {
		projects = append(projects, *copyProject(r.projects[id]))
	}
	return projects, nil
}

// UpsertBid ставит или обновляет ставку участника и возвращает новый
// остаток кошелька. Проверка средств выполняется по свежему значению
// кошелька под мьютексом.
func (r *MemoryRepository) UpsertBid(_ context.Context, userID, projectID string, amount int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	p, ok := r.projects[projectID]
	if !ok {
		return 0, ErrProjectNotFound
	}

	var refund int64
	existing := -1
	for i, b := range p.Bids {
		if b.UserID == userID {
			refund = b.Amount
			existing = i
			break
		}
	}

	// Сумма сверяется с кошельком до возврата старой ставки: новая
	// ставка должна помещаться в текущий остаток целиком.
	if amount > u.Wallet {
		return 0, ErrInsufficientFunds
	}
	updated := u.Wallet + refund - amount

	bid := model.Bid{
		UserID:       userID,
		UserName:     u.Name,
		Amount:       amount,
		IsTeamMember: u.IsTeamMember,
		PlacedAt:     time.Now(),
	}
	if existing >= 0 {
		p.Bids[existing] = bid
	} else {
		p.Bids = append(p.Bids, bid)
	}

	u.Wallet = updated
	return updated, nil
}

// RemoveBid снимает ставку и возвращает её сумму в кошелёк. Отсутствие
// ставки — не ошибка.
func (r *MemoryRepository) RemoveBid(_ context.Context, userID, projectID string) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return 0, false, ErrUserNotFound
	}
	p, ok := r.projects[projectID]
	if !ok {
		return 0, false, ErrProjectNotFound
	}

	for i, b := range p.Bids {
		if b.UserID == userID {
			p.Bids = append(p.Bids[:i], p.Bids[i+1:]...)
			u.Wallet += b.Amount
			return u.Wallet, true, nil
		}
	}

	return u.Wallet, false, nil
}

// DistributeWallets раздаёт кошельки участникам, ещё не получившим их,
// по тем же правилам, что и PostgresRepository.
func (r *MemoryRepository) DistributeWallets(_ context.Context, totalBudget int64, teamShare float64) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var teamCount, attendeeCount int
	for _, id := range r.userIDs {
		if r.users[id].IsTeamMember {
			teamCount++
		} else {
			attendeeCount++
		}
	}

	teamAmount, attendeeAmount := PerCapita(totalBudget, teamShare, teamCount, attendeeCount)

	var teamCredited, attendeeCredited int
	for _, id := range r.userIDs {
		u := r.users[id]
		if u.HasReceivedWallet {
			continue
		}
		if u.IsTeamMember {
			u.Wallet = teamAmount
			teamCredited++
		} else {
			u.Wallet = attendeeAmount
			attendeeCredited++
		}
		u.HasReceivedWallet = true
	}

	return teamCredited, attendeeCredited, nil
}

// ResetUserWallet снимает все ставки участника и выставляет кошелёк в
// подушевую сумму по текущему ростеру.
func (r *MemoryRepository) ResetUserWallet(_ context.Context, userID string, totalBudget int64, teamShare float64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}

	for _, p := range r.projects {
		p.Bids = removeUserBids(p.Bids, userID)
	}

	var teamCount, attendeeCount int
	for _, id := range r.userIDs {
		if r.users[id].IsTeamMember {
			teamCount++
		} else {
			attendeeCount++
		}
	}

	teamAmount, attendeeAmount := PerCapita(totalBudget, teamShare, teamCount, attendeeCount)
	if u.IsTeamMember {
		u.Wallet = teamAmount
	} else {
		u.Wallet = attendeeAmount
	}

	return u.Wallet, nil
}

// GetEventState возвращает общее состояние мероприятия.
func (r *MemoryRepository) GetEventState(_ context.Context) (*model.EventState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state
	return &s, nil
}

// SetRegistration выставляет флаг окна регистрации и срок его закрытия.
func (r *MemoryRepository) SetRegistration(_ context.Context, open bool, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.RegistrationOpen = open
	r.state.RegistrationExpiresAt = expiresAt
	return nil
}

// SetCurrentPitch выставляет идентификатор активного питча.
func (r *MemoryRepository) SetCurrentPitch(_ context.Context, projectID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.CurrentPitchID = projectID
	return nil
}

func removeUserBids(bids []model.Bid, userID string) []model.Bid {
	filtered := bids[:0]
	for _, b := range bids {
		if b.UserID != userID {
			filtered = append(filtered, b)
		}
	}
	return filtered
}

func copyProject(p *model.Project) *model.Project {
	copied := *p
	copied.Bids = append([]model.Bid(nil), p.Bids...)
	sort.SliceStable(copied.Bids, func(i, j int) bool {
		return copied.Bids[i].Amount > copied.Bids[j].Amount
	})
	return &copied
}
