// Package repository содержит реализацию доступа к данным сервиса торгов.
//
// Движок ставок выполняет каждую операцию перевода средств между кошельком
// участника и реестром ставок проекта одной транзакцией с блокировкой
// затронутых строк. Порядок блокировок фиксированный: сначала строка
// участника, затем строка проекта.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Aryan10022006/enactus/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserExists возвращается при попытке повторной регистрации участника.
	ErrUserExists = errors.New("user already registered")
	// ErrUserNotFound возвращается, если участник не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrProjectNotFound возвращается, если проект не найден.
	ErrProjectNotFound = errors.New("project not found")
	// ErrInsufficientFunds возвращается при ставке, превышающей кошелёк.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrBidConflict возвращается, когда конкурентная запись помешала
	// завершить транзакцию ставки. Операцию безопасно повторить целиком.
	ErrBidConflict = errors.New("concurrent modification, retry the operation")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Дедлоки и сбои сериализации — временные, транзакцию можно повторить.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
				return fmt.Errorf("%w: %s", ErrBidConflict, pgErr.Code)
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт запись нового участника.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *model.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, name, is_team_member, wallet, has_received_wallet, registered_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Name, user.IsTeamMember, user.Wallet, user.HasReceivedWallet, user.RegisteredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrUserExists, user.ID)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser возвращает участника по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, is_team_member, wallet, has_received_wallet, registered_at
		 FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.IsTeamMember, &u.Wallet, &u.HasReceivedWallet, &u.RegisteredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// ListUsers возвращает всех участников в порядке регистрации.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, is_team_member, wallet, has_received_wallet, registered_at
		 FROM users
		 ORDER BY registered_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.IsTeamMember, &u.Wallet, &u.HasReceivedWallet, &u.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// DeleteUser удаляет участника. Его ставки во всех проектах удаляются
// каскадом в той же транзакции, возврат средств не требуется.
func (r *PostgresRepository) DeleteUser(ctx context.Context, id string) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetTeamMember меняет роль участника. Денормализованная роль в уже
// сделанных ставках не пересчитывается.
func (r *PostgresRepository) SetTeamMember(ctx context.Context, id string, isTeamMember bool) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_team_member = $2 WHERE id = $1`,
		id, isTeamMember,
	)
	if err != nil {
		return fmt.Errorf("set team member: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateProject создаёт запись нового проекта.
func (r *PostgresRepository) CreateProject(ctx context.Context, p *model.Project) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO projects (id, name, description, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.Description, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProject возвращает проект со ставками, отсортированными по убыванию суммы.
func (r *PostgresRepository) GetProject(ctx context.Context, id string) (*model.Project, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at FROM projects WHERE id = $1`,
		id,
	)

	var p model.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}

	bids, err := r.projectBids(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Bids = bids

	return &p, nil
}

func (r *PostgresRepository) projectBids(ctx context.Context, projectID string) ([]model.Bid, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, user_name, amount, is_team_member, placed_at
		 FROM bids
		 WHERE project_id = $1
		 ORDER BY amount DESC, placed_at`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("select bids: %w", err)
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(&b.UserID, &b.UserName, &b.Amount, &b.IsTeamMember, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bids = append(bids, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return bids, nil
}

// ListProjects возвращает все проекты со ставками в порядке создания.
func (r *PostgresRepository) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, created_at FROM projects ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("select projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	bidRows, err := r.pool.Query(ctx,
		`SELECT project_id, user_id, user_name, amount, is_team_member, placed_at
		 FROM bids
		 ORDER BY amount DESC, placed_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("select bids: %w", err)
	}
	defer bidRows.Close()

	byProject := make(map[string][]model.Bid)
	for bidRows.Next() {
		var projectID string
		var b model.Bid
		if err := bidRows.Scan(&projectID, &b.UserID, &b.UserName, &b.Amount, &b.IsTeamMember, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		byProject[projectID] = append(byProject[projectID], b)
	}
	if err := bidRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range projects {
		projects[i].Bids = byProject[projects[i].ID]
	}

	return projects, nil
}

// UpsertBid ставит или обновляет ставку участника на проект и возвращает
// новый остаток кошелька. Кошелёк, проект и существующая ставка читаются
// внутри транзакции под блокировкой, поэтому проверка средств выполняется
// по свежему значению, а не по кэшу клиента.
func (r *PostgresRepository) UpsertBid(ctx context.Context, userID, projectID string, amount int64) (int64, error) {
	var newWallet int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			userName     string
			isTeamMember bool
			wallet       int64
		)
		err = tx.QueryRow(ctx,
			`SELECT name, is_team_member, wallet FROM users WHERE id = $1 FOR UPDATE`,
			userID,
		).Scan(&userName, &isTeamMember, &wallet)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		var dummy int
		err = tx.QueryRow(ctx,
			`SELECT 1 FROM projects WHERE id = $1 FOR UPDATE`,
			projectID,
		).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProjectNotFound
			}
			return fmt.Errorf("lock project: %w", err)
		}

		var refund int64
		err = tx.QueryRow(ctx,
			`SELECT amount FROM bids WHERE project_id = $1 AND user_id = $2`,
			projectID, userID,
		).Scan(&refund)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("select existing bid: %w", err)
		}

		// Сумма сверяется с кошельком до возврата старой ставки: новая
		// ставка должна помещаться в текущий остаток целиком.
		if amount > wallet {
			return ErrInsufficientFunds
		}
		updated := wallet + refund - amount

		if _, err := tx.Exec(ctx,
			`UPDATE users SET wallet = $2 WHERE id = $1`,
			userID, updated,
		); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO bids (project_id, user_id, user_name, amount, is_team_member, placed_at)
			 VALUES ($1, $2, $3, $4, $5, now())
			 ON CONFLICT (project_id, user_id) DO UPDATE
			 SET amount = EXCLUDED.amount,
			     user_name = EXCLUDED.user_name,
			     is_team_member = EXCLUDED.is_team_member,
			     placed_at = EXCLUDED.placed_at`,
			projectID, userID, userName, amount, isTeamMember,
		); err != nil {
			return fmt.Errorf("upsert bid: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		newWallet = updated
		return nil
	})

	return newWallet, err
}

// RemoveBid снимает ставку участника с проекта и возвращает всю её сумму в
// кошелёк. Отсутствие ставки — не ошибка: возвращается removed = false.
func (r *PostgresRepository) RemoveBid(ctx context.Context, userID, projectID string) (int64, bool, error) {
	var (
		newWallet int64
		removed   bool
	)

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var wallet int64
		err = tx.QueryRow(ctx,
			`SELECT wallet FROM users WHERE id = $1 FOR UPDATE`,
			userID,
		).Scan(&wallet)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		var dummy int
		err = tx.QueryRow(ctx,
			`SELECT 1 FROM projects WHERE id = $1 FOR UPDATE`,
			projectID,
		).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProjectNotFound
			}
			return fmt.Errorf("lock project: %w", err)
		}

		var refund int64
		err = tx.QueryRow(ctx,
			`DELETE FROM bids WHERE project_id = $1 AND user_id = $2 RETURNING amount`,
			projectID, userID,
		).Scan(&refund)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				newWallet = wallet
				removed = false
				return tx.Commit(ctx)
			}
			return fmt.Errorf("delete bid: %w", err)
		}

		updated := wallet + refund
		if _, err := tx.Exec(ctx,
			`UPDATE users SET wallet = $2 WHERE id = $1`,
			userID, updated,
		); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		newWallet = updated
		removed = true
		return nil
	})

	return newWallet, removed, err
}

// DistributeWallets раздаёт кошельки участникам, ещё не получившим их.
// Подушевая сумма считается делением пула роли на размер всей группы этой
// роли, включая уже получивших кошельки; остаток от деления не раздаётся.
// Список получателей берётся из одного согласованного снимка ростера,
// поэтому повторный вызов никого не кредитует дважды. Конкурентные вызовы
// не поддерживаются, их сериализует вызывающая сторона.
func (r *PostgresRepository) DistributeWallets(ctx context.Context, totalBudget int64, teamShare float64) (int, int, error) {
	var teamCredited, attendeeCredited int

	err := r.withRetry(ctx, func() error {
		teamCredited, attendeeCredited = 0, 0

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx,
			`SELECT id, is_team_member, has_received_wallet FROM users ORDER BY registered_at FOR UPDATE`,
		)
		if err != nil {
			return fmt.Errorf("lock users: %w", err)
		}

		type rosterRow struct {
			id           string
			isTeamMember bool
			hasWallet    bool
		}

		var roster []rosterRow
		for rows.Next() {
			var u rosterRow
			if err := rows.Scan(&u.id, &u.isTeamMember, &u.hasWallet); err != nil {
				rows.Close()
				return fmt.Errorf("scan user: %w", err)
			}
			roster = append(roster, u)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		var teamCount, attendeeCount int
		for _, u := range roster {
			if u.isTeamMember {
				teamCount++
			} else {
				attendeeCount++
			}
		}

		teamAmount, attendeeAmount := PerCapita(totalBudget, teamShare, teamCount, attendeeCount)

		for _, u := range roster {
			if u.hasWallet {
				continue
			}
			amount := attendeeAmount
			if u.isTeamMember {
				amount = teamAmount
			}
			if _, err := tx.Exec(ctx,
				`UPDATE users SET wallet = $2, has_received_wallet = TRUE WHERE id = $1`,
				u.id, amount,
			); err != nil {
				return fmt.Errorf("credit wallet: %w", err)
			}
			if u.isTeamMember {
				teamCredited++
			} else {
				attendeeCredited++
			}
		}

		return tx.Commit(ctx)
	})

	return teamCredited, attendeeCredited, err
}

// ResetUserWallet снимает все ставки участника и выставляет кошелёк в
// подушевую сумму, рассчитанную по текущему ростеру и переданным параметрам
// бюджета. Состав ростера мог измениться с момента первоначальной раздачи,
// поэтому сумма может отличаться от выданной изначально.
func (r *PostgresRepository) ResetUserWallet(ctx context.Context, userID string, totalBudget int64, teamShare float64) (int64, error) {
	var newWallet int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var isTeamMember bool
		err = tx.QueryRow(ctx,
			`SELECT is_team_member FROM users WHERE id = $1 FOR UPDATE`,
			userID,
		).Scan(&isTeamMember)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM bids WHERE user_id = $1`,
			userID,
		); err != nil {
			return fmt.Errorf("delete bids: %w", err)
		}

		var teamCount, attendeeCount int
		err = tx.QueryRow(ctx,
			`SELECT count(*) FILTER (WHERE is_team_member),
			        count(*) FILTER (WHERE NOT is_team_member)
			 FROM users`,
		).Scan(&teamCount, &attendeeCount)
		if err != nil {
			return fmt.Errorf("count roster: %w", err)
		}

		teamAmount, attendeeAmount := PerCapita(totalBudget, teamShare, teamCount, attendeeCount)
		amount := attendeeAmount
		if isTeamMember {
			amount = teamAmount
		}

		if _, err := tx.Exec(ctx,
			`UPDATE users SET wallet = $2 WHERE id = $1`,
			userID, amount,
		); err != nil {
			return fmt.Errorf("reset wallet: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		newWallet = amount
		return nil
	})

	return newWallet, err
}

// GetEventState возвращает общее состояние мероприятия.
func (r *PostgresRepository) GetEventState(ctx context.Context) (*model.EventState, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT registration_open, current_pitch_id, registration_expires_at
		 FROM event_state WHERE id = 1`,
	)

	var s model.EventState
	if err := row.Scan(&s.RegistrationOpen, &s.CurrentPitchID, &s.RegistrationExpiresAt); err != nil {
		return nil, fmt.Errorf("get event state: %w", err)
	}

	return &s, nil
}

// SetRegistration выставляет флаг окна регистрации и срок его закрытия.
func (r *PostgresRepository) SetRegistration(ctx context.Context, open bool, expiresAt *time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE event_state SET registration_open = $1, registration_expires_at = $2 WHERE id = 1`,
		open, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("set registration: %w", err)
	}
	return nil
}

// SetCurrentPitch выставляет идентификатор проекта, питч которого идёт
// сейчас, либо nil, когда питч завершён.
func (r *PostgresRepository) SetCurrentPitch(ctx context.Context, projectID *string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE event_state SET current_pitch_id = $1 WHERE id = 1`,
		projectID,
	)
	if err != nil {
		return fmt.Errorf("set current pitch: %w", err)
	}
	return nil
}

// PerCapita считает подушевые суммы для обеих ролей. Пулы ролей считаются
// долями от общего бюджета, деление на размер группы целочисленное:
// остаток намеренно не раздаётся.
func PerCapita(totalBudget int64, teamShare float64, teamCount, attendeeCount int) (teamAmount, attendeeAmount int64) {
	teamPool := int64(float64(totalBudget) * teamShare)
	attendeePool := int64(float64(totalBudget) * (1 - teamShare))

	if teamCount > 0 {
		teamAmount = teamPool / int64(teamCount)
	}
	if attendeeCount > 0 {
		attendeeAmount = attendeePool / int64(attendeeCount)
	}
	return teamAmount, attendeeAmount
}
