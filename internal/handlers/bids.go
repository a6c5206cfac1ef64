package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zerotto-annme/maistergo-miniapp/db"

	"github.com/go-chi/chi/v5"
)

// BidOut — отклик, обогащённый статистикой исполнителя на момент чтения.
type BidOut struct {
	ID                     int       `json:"id"`
	TaskID                 int       `json:"taskId"`
	PerformerID            int       `json:"performerId"`
	Price                  int       `json:"price"`
	Message                string    `json:"message"`
	Status                 string    `json:"status"`
	PerformerName          string    `json:"performerName"`
	PerformerPhotoURL      string    `json:"performerPhotoUrl"`
	PerformerRating        float64   `json:"performerRating"`
	PerformerCompletedJobs int       `json:"performerCompletedJobs"`
	HasReview              bool      `json:"hasReview"`
	CreatedAt              time.Time `json:"createdAt"`
}

func (h *Handler) bidToOut(ctx context.Context, bid *db.Bid) (BidOut, error) {
	out := BidOut{
		ID:          bid.ID,
		TaskID:      bid.TaskID,
		PerformerID: bid.PerformerID,
		Price:       bid.Price,
		Message:     bid.Message,
		Status:      bid.Status,
		CreatedAt:   bid.CreatedAt,
	}
	if performer, err := h.Store.GetUser(ctx, bid.PerformerID); err == nil {
		out.PerformerName = performer.FullName
		out.PerformerPhotoURL = performer.ProfilePhotoURL
	}
	rating, completed, err := h.Store.GetPerformerStats(ctx, bid.PerformerID)
	if err != nil {
		return out, err
	}
	out.PerformerRating = rating
	out.PerformerCompletedJobs = completed

	hasReview, err := h.Store.HasReviewForBid(ctx, bid.ID)
	if err != nil {
		return out, err
	}
	out.HasReview = hasReview
	return out, nil
}

func (h *Handler) bidsToOut(ctx context.Context, bids []db.Bid) ([]BidOut, error) {
	result := []BidOut{}
	for i := range bids {
		out, err := h.bidToOut(ctx, &bids[i])
		if err != nil {
			return nil, err
		}
		result = append(result, out)
	}
	return result, nil
}

// GetTaskBidsHandler — отклики задачи. Клиент-владелец видит все отклики,
// исполнитель — только собственные.
func (h *Handler) GetTaskBidsHandler(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.Atoi(chi.URLParam(r, "taskId"))
	if err != nil || taskID <= 0 {
		http.Error(w, "Invalid taskId", http.StatusBadRequest)
		return
	}

	user := h.authorize(w, r)
	if user == nil {
		return
	}
	mode := resolveMode(user, r.URL.Query().Get("mode"))

	task, err := h.Store.GetTask(r.Context(), taskID)
	if err != nil {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}

	var bids []db.Bid
	if mode == RoleClient {
		if !requireClient(w, user) {
			return
		}
		if task.ClientID != user.ID {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		bids, err = h.Store.GetBidsForTask(r.Context(), taskID)
	} else {
		if !requirePerformer(w, user) {
			return
		}
		bids, err = h.Store.GetPerformerBidsForTask(r.Context(), taskID, user.ID)
	}
	if err != nil {
		http.Error(w, "Failed to get bids", http.StatusInternalServerError)
		return
	}

	result, err := h.bidsToOut(r.Context(), bids)
	if err != nil {
		http.Error(w, "Failed to get bids", http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

// CreateBidHandler создаёт или обновляет отклик исполнителя на открытую задачу.
// Повторный отклик той же пары (задача, исполнитель) переписывает цену и
// сообщение и сбрасывает статус в pending.
func (h *Handler) CreateBidHandler(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.Atoi(chi.URLParam(r, "taskId"))
	if err != nil || taskID <= 0 {
		http.Error(w, "Invalid taskId", http.StatusBadRequest)
		return
	}

	user := h.authorize(w, r)
	if user == nil {
		return
	}
	if !requirePerformer(w, user) {
		return
	}

	task, err := h.Store.GetTask(r.Context(), taskID)
	if err != nil {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	if task.Status != db.TaskStatusOpen {
		http.Error(w, "Task is not open for bidding", http.StatusBadRequest)
		return
	}
	if task.ClientID == user.ID {
		http.Error(w, "Cannot bid on own task", http.StatusBadRequest)
		return
	}

	inCategory := false
	for _, c := range user.PerformerCategories {
		if c == task.Category {
			inCategory = true
			break
		}
	}
	if !inCategory {
		http.Error(w, "Task category is outside your specialization", http.StatusForbidden)
		return
	}

	var input struct {
		Price   int    `json:"price"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if input.Price <= 0 {
		http.Error(w, "Price must be positive", http.StatusUnprocessableEntity)
		return
	}
	if len([]rune(input.Message)) > 1000 {
		http.Error(w, "Message is too long", http.StatusUnprocessableEntity)
		return
	}

	bid, err := h.Store.GetBidByTaskAndPerformer(r.Context(), taskID, user.ID)
	switch {
	case err == nil:
		bid.Price = input.Price
		bid.Message = input.Message
		bid.Status = db.BidStatusPending
		if err := h.Store.UpdateBid(r.Context(), bid); err != nil {
			http.Error(w, "Failed to update bid", http.StatusInternalServerError)
			return
		}
	case err == sql.ErrNoRows:
		bid = &db.Bid{
			TaskID:      taskID,
			PerformerID: user.ID,
			Price:       input.Price,
			Message:     input.Message,
			Status:      db.BidStatusPending,
		}
		if err := h.Store.CreateBid(r.Context(), bid); err != nil {
			http.Error(w, "Failed to create bid", http.StatusInternalServerError)
			return
		}
	default:
		http.Error(w, "Failed to load bid", http.StatusInternalServerError)
		return
	}

	h.notifyClientAboutBid(task)

	out, err := h.bidToOut(r.Context(), bid)
	if err != nil {
		http.Error(w, "Failed to load bid", http.StatusInternalServerError)
		return
	}
	writeJSON(w, out)
}

func (h *Handler) notifyClientAboutBid(task *db.Task) {
	clientID := task.ClientID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client, err := h.Store.GetUser(ctx, clientID)
		if err != nil || !client.TelegramChatID.Valid {
			return
		}
		h.Notifier.Notify(ctx, client.TelegramChatID.Int64,
			"Есть новый отклик на вашу заявку, проверьте пожалуйста!")
	}()
}

// AcceptBidHandler принимает отклик: выбранный становится accepted, остальные
// отклики задачи — rejected, задача уходит в in_progress, всё одной транзакцией.
// Повторное принятие того же отклика — no-op; попытка принять другой отклик
// задачи, уже покинувшей open, отклоняется как конфликт.
func (h *Handler) AcceptBidHandler(w http.ResponseWriter, r *http.Request) {
	bidID, err := strconv.Atoi(chi.URLParam(r, "bidId"))
	if err != nil || bidID <= 0 {
		http.Error(w, "Invalid bidId", http.StatusBadRequest)
		return
	}

	user := h.authorize(w, r)
	if user == nil {
		return
	}
	if !requireClient(w, user) {
		return
	}

	bid, err := h.Store.GetBid(r.Context(), bidID)
	if err != nil {
		http.Error(w, "Bid not found", http.StatusNotFound)
		return
	}
	task, err := h.Store.GetTask(r.Context(), bid.TaskID)
	if err != nil || task.ClientID != user.ID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if task.Status != db.TaskStatusOpen {
		if bid.Status == db.BidStatusAccepted {
			out, err := h.bidToOut(r.Context(), bid)
			if err != nil {
				http.Error(w, "Failed to load bid", http.StatusInternalServerError)
				return
			}
			writeJSON(w, out)
			return
		}
		http.Error(w, "Task already has a selected performer", http.StatusBadRequest)
		return
	}

	if err := h.Store.AcceptBid(r.Context(), bid.ID, task.ID); err != nil {
		http.Error(w, "Failed to accept bid", http.StatusInternalServerError)
		return
	}

	bid, err = h.Store.GetBid(r.Context(), bidID)
	if err != nil {
		http.Error(w, "Failed to load bid", http.StatusInternalServerError)
		return
	}
	out, err := h.bidToOut(r.Context(), bid)
	if err != nil {
		http.Error(w, "Failed to load bid", http.StatusInternalServerError)
		return
	}
	writeJSON(w, out)
}

// CompleteBidHandler завершает принятый отклик и его задачу одной транзакцией
func (h *Handler) CompleteBidHandler(w http.ResponseWriter, r *http.Request) {
	bidID, err := strconv.Atoi(chi.URLParam(r, "bidId"))
	if err != nil || bidID <= 0 {
		http.Error(w, "Invalid bidId", http.StatusBadRequest)
		return
	}

	user := h.authorize(w, r)
	if user == nil {
		return
	}
	if !requireClient(w, user) {
		return
	}

	bid, err := h.Store.GetBid(r.Context(), bidID)
	if err != nil {
		http.Error(w, "Bid not found", http.StatusNotFound)
		return
	}
	if bid.Status != db.BidStatusAccepted {
		http.Error(w, "Bid must be accepted first", http.StatusBadRequest)
		return
	}

	task, err := h.Store.GetTask(r.Context(), bid.TaskID)
	if err != nil || task.ClientID != user.ID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if err := h.Store.CompleteBid(r.Context(), bid.ID, task.ID); err != nil {
		http.Error(w, "Failed to complete bid", http.StatusInternalServerError)
		return
	}

	bid, err = h.Store.GetBid(r.Context(), bidID)
	if err != nil {
		http.Error(w, "Failed to load bid", http.StatusInternalServerError)
		return
	}
	out, err := h.bidToOut(r.Context(), bid)
	if err != nil {
		http.Error(w, "Failed to load bid", http.StatusInternalServerError)
		return
	}
	writeJSON(w, out)
}

// CreateReviewHandler сохраняет единственный отзыв по завершённому отклику
func (h *Handler) CreateReviewHandler(w http.ResponseWriter, r *http.Request) {
	bidID, err := strconv.Atoi(chi.URLParam(r, "bidId"))
	if err != nil || bidID <= 0 {
		http.Error(w, "Invalid bidId", http.StatusBadRequest)
		return
	}

	user := h.authorize(w, r)
	if user == nil {
		return
	}
	if !requireClient(w, user) {
		return
	}

	bid, err := h.Store.GetBid(r.Context(), bidID)
	if err != nil {
		http.Error(w, "Bid not found", http.StatusNotFound)
		return
	}
	if bid.Status != db.BidStatusCompleted {
		http.Error(w, "Review is available after completion", http.StatusBadRequest)
		return
	}

	task, err := h.Store.GetTask(r.Context(), bid.TaskID)
	if err != nil || task.ClientID != user.ID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var input struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if input.Rating < 1 || input.Rating > 5 {
		http.Error(w, "Rating must be between 1 and 5", http.StatusUnprocessableEntity)
		return
	}
	comment := strings.TrimSpace(input.Comment)
	if comment == "" || len([]rune(comment)) > 1000 {
		http.Error(w, "Comment is required, at most 1000 characters", http.StatusUnprocessableEntity)
		return
	}

	exists, err := h.Store.HasReviewForBid(r.Context(), bid.ID)
	if err != nil {
		http.Error(w, "Failed to check review", http.StatusInternalServerError)
		return
	}
	if exists {
		http.Error(w, "Review already exists", http.StatusBadRequest)
		return
	}

	review := &db.Review{
		TaskID:      bid.TaskID,
		BidID:       bid.ID,
		PerformerID: bid.PerformerID,
		ClientID:    user.ID,
		Rating:      input.Rating,
		Comment:     comment,
	}
	if err := h.Store.CreateReview(r.Context(), review); err != nil {
		// Гонка двух параллельных отзывов упирается в уникальный индекс
		if db.IsUniqueViolation(err) {
			http.Error(w, "Review already exists", http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to create review", http.StatusInternalServerError)
		return
	}
	writeJSON(w, review)
}

// PerformerProfileOut — публичный профиль исполнителя
type PerformerProfileOut struct {
	PerformerID     int         `json:"performerId"`
	FullName        string      `json:"fullName"`
	City            string      `json:"city"`
	ProfilePhotoURL string      `json:"profilePhotoUrl"`
	Categories      []string    `json:"categories"`
	CompletedJobs   int         `json:"completedJobs"`
	RatingAvg       float64     `json:"ratingAvg"`
	Reviews         []db.Review `json:"reviews"`
}

func (h *Handler) GetPerformerProfileHandler(w http.ResponseWriter, r *http.Request) {
	performerID, err := strconv.Atoi(chi.URLParam(r, "performerId"))
	if err != nil || performerID <= 0 {
		http.Error(w, "Invalid performerId", http.StatusBadRequest)
		return
	}

	user := h.authorize(w, r)
	if user == nil {
		return
	}
	if !requireRegistered(w, user) {
		return
	}

	performer, err := h.Store.GetUser(r.Context(), performerID)
	if err != nil || !performer.IsPerformerRegistered {
		http.Error(w, "Performer not found", http.StatusNotFound)
		return
	}

	rating, completed, err := h.Store.GetPerformerStats(r.Context(), performerID)
	if err != nil {
		http.Error(w, "Failed to get stats", http.StatusInternalServerError)
		return
	}
	reviews, err := h.Store.GetPerformerReviews(r.Context(), performerID)
	if err != nil {
		http.Error(w, "Failed to get reviews", http.StatusInternalServerError)
		return
	}

	writeJSON(w, PerformerProfileOut{
		PerformerID:     performer.ID,
		FullName:        performer.FullName,
		City:            performer.City,
		ProfilePhotoURL: performer.ProfilePhotoURL,
		Categories:      performer.PerformerCategories,
		CompletedJobs:   completed,
		RatingAvg:       rating,
		Reviews:         reviews,
	})
}

// GetClientContactHandler выдаёт контакты клиента исполнителю, чей отклик
// принят или завершён. До выбора исполнителя контакты скрыты.
func (h *Handler) GetClientContactHandler(w http.ResponseWriter, r *http.Request) {
	bidID, err := strconv.Atoi(chi.URLParam(r, "bidId"))
	if err != nil || bidID <= 0 {
		http.Error(w, "Invalid bidId", http.StatusBadRequest)
		return
	}

	user := h.authorize(w, r)
	if user == nil {
		return
	}
	if !requirePerformer(w, user) {
		return
	}

	bid, err := h.Store.GetBid(r.Context(), bidID)
	if err != nil || bid.PerformerID != user.ID {
		http.Error(w, "Bid not found", http.StatusNotFound)
		return
	}
	if bid.Status != db.BidStatusAccepted && bid.Status != db.BidStatusCompleted {
		http.Error(w, "Client contact is available after acceptance", http.StatusForbidden)
		return
	}

	task, err := h.Store.GetTask(r.Context(), bid.TaskID)
	if err != nil {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	client, err := h.Store.GetUser(r.Context(), task.ClientID)
	if err != nil {
		http.Error(w, "Client not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]string{
		"fullName": client.FullName,
		"phone":    client.Phone,
		"city":     client.City,
		"address":  client.Address,
	})
}
