package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// Статусы задач и откликов
const (
	TaskStatusOpen       = "open"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"

	BidStatusPending   = "pending"
	BidStatusRejected  = "rejected"
	BidStatusAccepted  = "accepted"
	BidStatusCompleted = "completed"
)

// User (Пользователь, оба кабинета в одной записи)
type User struct {
	ID                    int            `db:"id" json:"id"`
	TelegramID            int64          `db:"telegram_id" json:"telegramId"`
	Username              string         `db:"username" json:"username"`
	FirstName             string         `db:"first_name" json:"firstName"`
	LastName              string         `db:"last_name" json:"lastName"`
	FullName              string         `db:"full_name" json:"fullName"`
	Phone                 string         `db:"phone" json:"phone"`
	City                  string         `db:"city" json:"city"`
	Address               string         `db:"address" json:"address"`
	ProfilePhotoURL       string         `db:"profile_photo_url" json:"profilePhotoUrl"`
	TelegramChatID        sql.NullInt64  `db:"telegram_chat_id" json:"telegramChatId"`
	IsClientRegistered    bool           `db:"is_client_registered" json:"isClientRegistered"`
	IsPerformerRegistered bool           `db:"is_performer_registered" json:"isPerformerRegistered"`
	Role                  string         `db:"role" json:"role"`
	PerformerCategories   pq.StringArray `db:"performer_categories" json:"performerCategories"`
	CreatedAt             time.Time      `db:"created_at" json:"createdAt"`
}

func (s *Storage) CreateUser(ctx context.Context, u *User) error {
	query := `
        INSERT INTO users
            (telegram_id, username, first_name, last_name, full_name, performer_categories)
        VALUES
            ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at`
	return s.db.QueryRowContext(ctx, query,
		u.TelegramID, u.Username, u.FirstName, u.LastName, u.FullName,
		pq.Array([]string(u.PerformerCategories))).
		Scan(&u.ID, &u.CreatedAt)
}

func (s *Storage) GetUser(ctx context.Context, id int) (*User, error) {
	u := &User{}
	query := `SELECT * FROM users WHERE id=$1`
	err := s.db.GetContext(ctx, u, query, id)
	return u, err
}

func (s *Storage) GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	u := &User{}
	query := `SELECT * FROM users WHERE telegram_id=$1`
	err := s.db.GetContext(ctx, u, query, telegramID)
	return u, err
}

func (s *Storage) UpdateUser(ctx context.Context, u *User) error {
	query := `
        UPDATE users
        SET username=$1, first_name=$2, last_name=$3, full_name=$4,
            phone=$5, city=$6, address=$7, profile_photo_url=$8,
            is_client_registered=$9, is_performer_registered=$10,
            role=$11, performer_categories=$12
        WHERE id=$13`
	_, err := s.db.ExecContext(ctx, query,
		u.Username, u.FirstName, u.LastName, u.FullName,
		u.Phone, u.City, u.Address, u.ProfilePhotoURL,
		u.IsClientRegistered, u.IsPerformerRegistered,
		u.Role, pq.Array([]string(u.PerformerCategories)), u.ID)
	return err
}

// UpsertTelegramChat привязывает chat_id к пользователю по telegram_id.
// Если пользователя ещё нет, создаёт пустую запись (бот мог написать раньше mini app).
func (s *Storage) UpsertTelegramChat(ctx context.Context, telegramID int64, chatID int64) error {
	query := `
        INSERT INTO users (telegram_id, telegram_chat_id)
        VALUES ($1, $2)
        ON CONFLICT (telegram_id) DO UPDATE SET telegram_chat_id = EXCLUDED.telegram_chat_id`
	_, err := s.db.ExecContext(ctx, query, telegramID, chatID)
	return err
}

// GetPerformersForCategory возвращает зарегистрированных исполнителей данной категории
// с привязанным чатом (кандидаты на уведомление о новой задаче).
func (s *Storage) GetPerformersForCategory(ctx context.Context, category string) ([]User, error) {
	query := `
        SELECT * FROM users
        WHERE is_performer_registered = TRUE
          AND telegram_chat_id IS NOT NULL
          AND $1 = ANY(performer_categories)`
	users := []User{}
	err := s.db.SelectContext(ctx, &users, query, category)
	return users, err
}

// Task (Задача клиента)
type Task struct {
	ID          int            `db:"id" json:"id"`
	Title       string         `db:"title" json:"title"`
	Description string         `db:"description" json:"description"`
	Category    string         `db:"category" json:"category"`
	City        string         `db:"city" json:"city"`
	Budget      int            `db:"budget" json:"budget"`
	Photos      pq.StringArray `db:"photos" json:"photos"`
	Status      string         `db:"status" json:"status"`
	ClientID    int            `db:"client_id" json:"clientId"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
}

// TaskFilter — необязательные фильтры списков задач.
type TaskFilter struct {
	City      string
	Category  string
	MinBudget *int
	MaxBudget *int
}

func (s *Storage) CreateTask(ctx context.Context, t *Task) error {
	query := `
        INSERT INTO tasks
            (title, description, category, city, budget, photos, status, client_id)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at`
	return s.db.QueryRowContext(ctx, query,
		t.Title, t.Description, t.Category, t.City, t.Budget,
		pq.Array([]string(t.Photos)), t.Status, t.ClientID).
		Scan(&t.ID, &t.CreatedAt)
}

func (s *Storage) GetTask(ctx context.Context, id int) (*Task, error) {
	t := &Task{}
	query := `SELECT * FROM tasks WHERE id=$1`
	err := s.db.GetContext(ctx, t, query, id)
	return t, err
}

func appendTaskFilter(f TaskFilter, conds []string, args []interface{}) ([]string, []interface{}) {
	if f.City != "" {
		args = append(args, f.City)
		conds = append(conds, fmt.Sprintf("city = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.MinBudget != nil {
		args = append(args, *f.MinBudget)
		conds = append(conds, fmt.Sprintf("budget >= $%d", len(args)))
	}
	if f.MaxBudget != nil {
		args = append(args, *f.MaxBudget)
		conds = append(conds, fmt.Sprintf("budget <= $%d", len(args)))
	}
	return conds, args
}

// GetClientTasks возвращает задачи клиента, новые первыми.
func (s *Storage) GetClientTasks(ctx context.Context, clientID int, f TaskFilter) ([]Task, error) {
	args := []interface{}{clientID}
	conds := []string{"client_id = $1"}
	conds, args = appendTaskFilter(f, conds, args)

	query := "SELECT * FROM tasks WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY created_at DESC"
	tasks := []Task{}
	err := s.db.SelectContext(ctx, &tasks, query, args...)
	return tasks, err
}

// GetPerformerTasks — лента исполнителя: открытые задачи его категорий плюс
// задачи, где его отклик принят или завершён. Собственные задачи исключаются.
func (s *Storage) GetPerformerTasks(ctx context.Context, performerID int, categories []string, f TaskFilter) ([]Task, error) {
	args := []interface{}{performerID, pq.Array(categories)}
	conds := []string{
		"t.client_id <> $1",
		"((t.status = 'open' AND t.category = ANY($2)) OR b.status IN ('accepted', 'completed'))",
	}
	extra := []string{}
	extra, args = appendTaskFilter(f, extra, args)
	for _, c := range extra {
		conds = append(conds, "t."+c)
	}

	query := `
        SELECT t.* FROM tasks t
        LEFT JOIN bids b ON b.task_id = t.id AND b.performer_id = $1
        WHERE ` + strings.Join(conds, " AND ") + `
        ORDER BY t.created_at DESC`
	tasks := []Task{}
	err := s.db.SelectContext(ctx, &tasks, query, args...)
	return tasks, err
}

// Bid (Отклик исполнителя)
type Bid struct {
	ID          int       `db:"id" json:"id"`
	TaskID      int       `db:"task_id" json:"taskId"`
	PerformerID int       `db:"performer_id" json:"performerId"`
	Price       int       `db:"price" json:"price"`
	Message     string    `db:"message" json:"message"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"-"`
}

func (s *Storage) CreateBid(ctx context.Context, b *Bid) error {
	query := `
        INSERT INTO bids (task_id, performer_id, price, message, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at`
	return s.db.QueryRowContext(ctx, query,
		b.TaskID, b.PerformerID, b.Price, b.Message, b.Status).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
}

func (s *Storage) GetBid(ctx context.Context, id int) (*Bid, error) {
	b := &Bid{}
	query := `SELECT * FROM bids WHERE id=$1`
	err := s.db.GetContext(ctx, b, query, id)
	return b, err
}

func (s *Storage) GetBidByTaskAndPerformer(ctx context.Context, taskID, performerID int) (*Bid, error) {
	b := &Bid{}
	query := `SELECT * FROM bids WHERE task_id=$1 AND performer_id=$2`
	err := s.db.GetContext(ctx, b, query, taskID, performerID)
	return b, err
}

func (s *Storage) UpdateBid(ctx context.Context, b *Bid) error {
	query := `
        UPDATE bids
        SET price=$1, message=$2, status=$3, updated_at=NOW()
        WHERE id=$4`
	_, err := s.db.ExecContext(ctx, query, b.Price, b.Message, b.Status, b.ID)
	return err
}

func (s *Storage) GetBidsForTask(ctx context.Context, taskID int) ([]Bid, error) {
	query := `SELECT * FROM bids WHERE task_id=$1 ORDER BY created_at DESC`
	bids := []Bid{}
	err := s.db.SelectContext(ctx, &bids, query, taskID)
	return bids, err
}

func (s *Storage) GetPerformerBidsForTask(ctx context.Context, taskID, performerID int) ([]Bid, error) {
	query := `
        SELECT * FROM bids
        WHERE task_id=$1 AND performer_id=$2
        ORDER BY created_at DESC`
	bids := []Bid{}
	err := s.db.SelectContext(ctx, &bids, query, taskID, performerID)
	return bids, err
}

func (s *Storage) GetPerformerBids(ctx context.Context, performerID int) ([]Bid, error) {
	query := `SELECT * FROM bids WHERE performer_id=$1 ORDER BY created_at DESC`
	bids := []Bid{}
	err := s.db.SelectContext(ctx, &bids, query, performerID)
	return bids, err
}

// GetSelectedBid возвращает выбранный отклик задачи: принятый либо завершённый,
// иначе последний ожидающий. nil без ошибки, если откликов нет.
func (s *Storage) GetSelectedBid(ctx context.Context, taskID int) (*Bid, error) {
	b := &Bid{}
	query := `
        SELECT * FROM bids
        WHERE task_id=$1
        ORDER BY (status IN ('accepted', 'completed')) DESC, created_at DESC
        LIMIT 1`
	err := s.db.GetContext(ctx, b, query, taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// AcceptBid выполняет групповой переход в одной транзакции: выбранный отклик
// становится accepted, остальные отклики задачи — rejected, задача — in_progress.
// Частичная запись невозможна: при любой ошибке транзакция откатывается.
func (s *Storage) AcceptBid(ctx context.Context, bidID, taskID int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        UPDATE bids
        SET status = CASE WHEN id = $1 THEN 'accepted' ELSE 'rejected' END,
            updated_at = NOW()
        WHERE task_id = $2`
	if _, err := tx.ExecContext(ctx, query, bidID, taskID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status='in_progress' WHERE id=$1`, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteBid переводит отклик и задачу в completed одной транзакцией.
func (s *Storage) CompleteBid(ctx context.Context, bidID, taskID int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE bids SET status='completed', updated_at=NOW() WHERE id=$1`, bidID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status='completed' WHERE id=$1`, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

// Review (Отзыв клиента об исполнителе, не более одного на отклик)
type Review struct {
	ID          int       `db:"id" json:"id"`
	TaskID      int       `db:"task_id" json:"taskId"`
	BidID       int       `db:"bid_id" json:"bidId"`
	PerformerID int       `db:"performer_id" json:"performerId"`
	ClientID    int       `db:"client_id" json:"clientId"`
	Rating      int       `db:"rating" json:"rating"`
	Comment     string    `db:"comment" json:"comment"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

func (s *Storage) CreateReview(ctx context.Context, r *Review) error {
	query := `
        INSERT INTO reviews (task_id, bid_id, performer_id, client_id, rating, comment)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at`
	return s.db.QueryRowContext(ctx, query,
		r.TaskID, r.BidID, r.PerformerID, r.ClientID, r.Rating, r.Comment).
		Scan(&r.ID, &r.CreatedAt)
}

// IsUniqueViolation распознаёт нарушение уникальности (повторный отзыв на отклик).
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *Storage) HasReviewForBid(ctx context.Context, bidID int) (bool, error) {
	var count int
	query := `SELECT COUNT(1) FROM reviews WHERE bid_id=$1`
	err := s.db.GetContext(ctx, &count, query, bidID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Storage) GetPerformerReviews(ctx context.Context, performerID int) ([]Review, error) {
	query := `SELECT * FROM reviews WHERE performer_id=$1 ORDER BY created_at DESC`
	reviews := []Review{}
	err := s.db.SelectContext(ctx, &reviews, query, performerID)
	return reviews, err
}

// GetPerformerStats считает средний рейтинг (2 знака, 0 без отзывов)
// и количество завершённых откликов. Всегда по запросу, без кэша.
func (s *Storage) GetPerformerStats(ctx context.Context, performerID int) (float64, int, error) {
	var rating float64
	query := `SELECT COALESCE(ROUND(AVG(rating)::numeric, 2), 0) FROM reviews WHERE performer_id=$1`
	if err := s.db.GetContext(ctx, &rating, query, performerID); err != nil {
		return 0, 0, err
	}
	var completed int
	query = `SELECT COUNT(1) FROM bids WHERE performer_id=$1 AND status='completed'`
	if err := s.db.GetContext(ctx, &completed, query, performerID); err != nil {
		return 0, 0, err
	}
	return rating, completed, nil
}
