package handlers

import (
	"context"

	"github.com/zerotto-annme/maistergo-miniapp/db"
)

type StorageInterface interface {
	CreateUser(ctx context.Context, u *db.User) error
	GetUser(ctx context.Context, id int) (*db.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*db.User, error)
	UpdateUser(ctx context.Context, u *db.User) error
	UpsertTelegramChat(ctx context.Context, telegramID, chatID int64) error
	GetPerformersForCategory(ctx context.Context, category string) ([]db.User, error)

	CreateTask(ctx context.Context, t *db.Task) error
	GetTask(ctx context.Context, id int) (*db.Task, error)
	GetClientTasks(ctx context.Context, clientID int, f db.TaskFilter) ([]db.Task, error)
	GetPerformerTasks(ctx context.Context, performerID int, categories []string, f db.TaskFilter) ([]db.Task, error)

	CreateBid(ctx context.Context, b *db.Bid) error
	GetBid(ctx context.Context, id int) (*db.Bid, error)
	GetBidByTaskAndPerformer(ctx context.Context, taskID, performerID int) (*db.Bid, error)
	UpdateBid(ctx context.Context, b *db.Bid) error
	GetBidsForTask(ctx context.Context, taskID int) ([]db.Bid, error)
	GetPerformerBidsForTask(ctx context.Context, taskID, performerID int) ([]db.Bid, error)
	GetPerformerBids(ctx context.Context, performerID int) ([]db.Bid, error)
	GetSelectedBid(ctx context.Context, taskID int) (*db.Bid, error)
	AcceptBid(ctx context.Context, bidID, taskID int) error
	CompleteBid(ctx context.Context, bidID, taskID int) error

	CreateReview(ctx context.Context, r *db.Review) error
	HasReviewForBid(ctx context.Context, bidID int) (bool, error)
	GetPerformerReviews(ctx context.Context, performerID int) ([]db.Review, error)
	GetPerformerStats(ctx context.Context, performerID int) (float64, int, error)
}
