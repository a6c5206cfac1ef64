package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zerotto-annme/maistergo-miniapp/db"
	"github.com/zerotto-annme/maistergo-miniapp/internal/uploads"
)

// parseTaskFilter читает фильтры списка задач из query.
// Категория приводится к каноническому написанию.
func parseTaskFilter(r *http.Request) (db.TaskFilter, error) {
	var f db.TaskFilter
	f.City = strings.TrimSpace(r.URL.Query().Get("city"))

	if raw := r.URL.Query().Get("category"); raw != "" {
		normalized, err := normalizeCategories([]string{raw})
		if err != nil || len(normalized) == 0 {
			return f, fmt.Errorf("invalid category filter")
		}
		f.Category = normalized[0]
	}
	if raw := r.URL.Query().Get("min_budget"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("invalid min_budget")
		}
		f.MinBudget = &v
	}
	if raw := r.URL.Query().Get("max_budget"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("invalid max_budget")
		}
		f.MaxBudget = &v
	}
	return f, nil
}

// CreateTaskHandler создаёт задачу клиента со статусом open
func (h *Handler) CreateTaskHandler(w http.ResponseWriter, r *http.Request) {
	user := h.authorize(w, r)
	if user == nil {
		return
	}
	if !requireClient(w, user) {
		return
	}

	if err := r.ParseMultipartForm(uploads.MaxFileSize * uploads.MaxTaskPhotos); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	title := strings.TrimSpace(r.PostFormValue("title"))
	description := strings.TrimSpace(r.PostFormValue("description"))
	city := strings.TrimSpace(r.PostFormValue("city"))
	budget, err := strconv.Atoi(r.PostFormValue("budget"))
	if err != nil || budget <= 0 {
		http.Error(w, "Budget must be positive", http.StatusUnprocessableEntity)
		return
	}
	if len([]rune(title)) < 3 {
		http.Error(w, "Title must be at least 3 characters", http.StatusUnprocessableEntity)
		return
	}
	if len([]rune(description)) < 5 {
		http.Error(w, "Description must be at least 5 characters", http.StatusUnprocessableEntity)
		return
	}
	if len([]rune(city)) < 2 {
		http.Error(w, "City is required", http.StatusUnprocessableEntity)
		return
	}
	normalized, err := normalizeCategories([]string{r.PostFormValue("category")})
	if err != nil || len(normalized) == 0 {
		http.Error(w, "Invalid category", http.StatusUnprocessableEntity)
		return
	}
	category := normalized[0]

	photoFiles := r.MultipartForm.File["photos"]
	if len(photoFiles) > uploads.MaxTaskPhotos {
		http.Error(w, fmt.Sprintf("At most %d photos allowed", uploads.MaxTaskPhotos), http.StatusUnprocessableEntity)
		return
	}
	photoURLs := []string{}
	for _, f := range photoFiles {
		url, err := h.Uploads.SaveImage(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		photoURLs = append(photoURLs, url)
	}

	task := &db.Task{
		Title:       title,
		Description: description,
		Category:    category,
		City:        city,
		Budget:      budget,
		Photos:      photoURLs,
		Status:      db.TaskStatusOpen,
		ClientID:    user.ID,
	}
	if err := h.Store.CreateTask(r.Context(), task); err != nil {
		http.Error(w, "Failed to create task", http.StatusInternalServerError)
		return
	}

	h.notifyPerformersAboutTask(task)

	writeJSON(w, task)
}

// notifyPerformersAboutTask рассылает уведомления исполнителям категории задачи.
// Работает после фиксации транзакции, сбои полностью гасятся.
func (h *Handler) notifyPerformersAboutTask(task *db.Task) {
	ownerID := task.ClientID
	text := fmt.Sprintf("Новая заявка в вашей категории:\n%s\n%s • %s • %d",
		task.Title, task.Category, task.City, task.Budget)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		performers, err := h.Store.GetPerformersForCategory(ctx, task.Category)
		if err != nil {
			return
		}
		for _, p := range performers {
			if p.ID == ownerID || !p.TelegramChatID.Valid {
				continue
			}
			h.Notifier.Notify(ctx, p.TelegramChatID.Int64, text)
		}
	}()
}

// GetTasksHandler возвращает список задач активного кабинета.
// Клиент видит только свои задачи, исполнитель — открытые задачи своих
// категорий и задачи со своим принятым или завершённым откликом.
func (h *Handler) GetTasksHandler(w http.ResponseWriter, r *http.Request) {
	user := h.authorize(w, r)
	if user == nil {
		return
	}
	mode := resolveMode(user, r.URL.Query().Get("mode"))

	filter, err := parseTaskFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	var tasks []db.Task
	if mode == RoleClient {
		if !requireClient(w, user) {
			return
		}
		tasks, err = h.Store.GetClientTasks(r.Context(), user.ID, filter)
	} else {
		if !requirePerformer(w, user) {
			return
		}
		tasks, err = h.Store.GetPerformerTasks(r.Context(), user.ID, user.PerformerCategories, filter)
	}
	if err != nil {
		http.Error(w, "Failed to get tasks", http.StatusInternalServerError)
		return
	}
	writeJSON(w, tasks)
}

// CabinetTaskOut — строка кабинета: задача плюс сводка по выбранному отклику.
type CabinetTaskOut struct {
	TaskID                int       `json:"taskId"`
	Title                 string    `json:"title"`
	Category              string    `json:"category"`
	City                  string    `json:"city"`
	Budget                int       `json:"budget"`
	TaskStatus            string    `json:"taskStatus"`
	SelectedPerformerName string    `json:"selectedPerformerName"`
	SelectedPrice         *int      `json:"selectedPrice"`
	BidStatus             string    `json:"bidStatus"`
	CreatedAt             time.Time `json:"createdAt"`
}

// GetCabinetTasksHandler — кабинетный вид: для клиента его задачи со сводкой
// по выбранному отклику, для исполнителя его отклики с задачами.
func (h *Handler) GetCabinetTasksHandler(w http.ResponseWriter, r *http.Request) {
	user := h.authorize(w, r)
	if user == nil {
		return
	}
	mode := resolveMode(user, r.URL.Query().Get("mode"))

	if mode == RoleClient {
		if !requireClient(w, user) {
			return
		}
		tasks, err := h.Store.GetClientTasks(r.Context(), user.ID, db.TaskFilter{})
		if err != nil {
			http.Error(w, "Failed to get tasks", http.StatusInternalServerError)
			return
		}

		result := []CabinetTaskOut{}
		for _, task := range tasks {
			out := CabinetTaskOut{
				TaskID:     task.ID,
				Title:      task.Title,
				Category:   task.Category,
				City:       task.City,
				Budget:     task.Budget,
				TaskStatus: task.Status,
				CreatedAt:  task.CreatedAt,
			}
			selected, err := h.Store.GetSelectedBid(r.Context(), task.ID)
			if err != nil {
				http.Error(w, "Failed to get bids", http.StatusInternalServerError)
				return
			}
			if selected != nil {
				price := selected.Price
				out.SelectedPrice = &price
				out.BidStatus = selected.Status
				if performer, err := h.Store.GetUser(r.Context(), selected.PerformerID); err == nil {
					out.SelectedPerformerName = performer.FullName
				}
			}
			result = append(result, out)
		}
		writeJSON(w, result)
		return
	}

	if !requirePerformer(w, user) {
		return
	}
	bids, err := h.Store.GetPerformerBids(r.Context(), user.ID)
	if err != nil {
		http.Error(w, "Failed to get bids", http.StatusInternalServerError)
		return
	}

	result := []CabinetTaskOut{}
	for _, bid := range bids {
		task, err := h.Store.GetTask(r.Context(), bid.TaskID)
		if err != nil {
			continue
		}
		price := bid.Price
		result = append(result, CabinetTaskOut{
			TaskID:                task.ID,
			Title:                 task.Title,
			Category:              task.Category,
			City:                  task.City,
			Budget:                task.Budget,
			TaskStatus:            task.Status,
			SelectedPerformerName: user.FullName,
			SelectedPrice:         &price,
			BidStatus:             bid.Status,
			CreatedAt:             task.CreatedAt,
		})
	}
	writeJSON(w, result)
}
