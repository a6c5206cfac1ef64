package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/zerotto-annme/maistergo-miniapp/internal/uploads"
)

// GetMeHandler возвращает действующий аккаунт, создавая его при первом контакте
func (h *Handler) GetMeHandler(w http.ResponseWriter, r *http.Request) {
	user := h.authorize(w, r)
	if user == nil {
		return
	}
	writeJSON(w, user)
}

// UpdateMyPhotoHandler обновляет фото профиля
func (h *Handler) UpdateMyPhotoHandler(w http.ResponseWriter, r *http.Request) {
	user := h.authorize(w, r)
	if user == nil {
		return
	}

	if err := r.ParseMultipartForm(uploads.MaxFileSize); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["profile_photo"]
	if len(files) == 0 {
		http.Error(w, "Missing profile_photo file", http.StatusUnprocessableEntity)
		return
	}

	url, err := h.Uploads.SaveImage(files[0])
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	user.ProfilePhotoURL = url
	if err := h.Store.UpdateUser(r.Context(), user); err != nil {
		http.Error(w, "Failed to update user", http.StatusInternalServerError)
		return
	}
	writeJSON(w, user)
}

// LinkTelegramChatHandler идемпотентно привязывает chat_id к telegram_id.
// Вызывается ботом при /start, без авторизации mini app.
func (h *Handler) LinkTelegramChatHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	telegramID, err1 := strconv.ParseInt(r.PostFormValue("telegram_id"), 10, 64)
	chatID, err2 := strconv.ParseInt(r.PostFormValue("chat_id"), 10, 64)
	if err1 != nil || err2 != nil || telegramID <= 0 || chatID <= 0 {
		http.Error(w, "Invalid telegram_id or chat_id", http.StatusBadRequest)
		return
	}

	if err := h.Store.UpsertTelegramChat(r.Context(), telegramID, chatID); err != nil {
		http.Error(w, "Failed to link chat", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

// RegisterHandler регистрирует один из кабинетов аккаунта.
// Регистрация одного кабинета не затрагивает второй.
func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	user := h.authorize(w, r)
	if user == nil {
		return
	}

	if err := r.ParseMultipartForm(uploads.MaxFileSize); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	role := strings.TrimSpace(r.PostFormValue("role"))
	if role != RoleClient && role != RolePerformer {
		http.Error(w, "Invalid role", http.StatusUnprocessableEntity)
		return
	}

	fullName := strings.TrimSpace(r.PostFormValue("full_name"))
	city := strings.TrimSpace(r.PostFormValue("city"))
	address := strings.TrimSpace(r.PostFormValue("address"))
	if len([]rune(fullName)) < 2 {
		http.Error(w, "Full name is required", http.StatusUnprocessableEntity)
		return
	}
	if len([]rune(city)) < 2 {
		http.Error(w, "City is required", http.StatusUnprocessableEntity)
		return
	}
	phone, err := validatePhone(r.PostFormValue("phone"))
	if err != nil {
		http.Error(w, "Invalid phone number", http.StatusUnprocessableEntity)
		return
	}

	if role == RolePerformer {
		categories, err := normalizeCategories(r.PostForm["categories"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if len(categories) == 0 {
			http.Error(w, "Select at least one category", http.StatusUnprocessableEntity)
			return
		}

		photos := r.MultipartForm.File["profile_photo"]
		if len(photos) == 0 && user.ProfilePhotoURL == "" {
			http.Error(w, "Performer photo is required", http.StatusUnprocessableEntity)
			return
		}
		if len(photos) > 0 {
			url, err := h.Uploads.SaveImage(photos[0])
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			user.ProfilePhotoURL = url
		}

		user.PerformerCategories = categories
		user.IsPerformerRegistered = true
	} else {
		if len([]rune(address)) < 3 {
			http.Error(w, "Address is required", http.StatusUnprocessableEntity)
			return
		}
		user.Address = address
		user.IsClientRegistered = true
	}

	user.Role = role
	user.FullName = fullName
	user.Phone = phone
	user.City = city

	if err := h.Store.UpdateUser(r.Context(), user); err != nil {
		http.Error(w, "Failed to register", http.StatusInternalServerError)
		return
	}
	writeJSON(w, user)
}
