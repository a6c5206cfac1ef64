package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/zerotto-annme/maistergo-miniapp/db"
	"github.com/zerotto-annme/maistergo-miniapp/internal/auth"
	"github.com/zerotto-annme/maistergo-miniapp/internal/uploads"
)

// Роли кабинетов
const (
	RoleClient    = "client"
	RolePerformer = "performer"
)

// AllowedServiceCategories — фиксированный перечень категорий услуг.
// Канонические строки совпадают с тем, что видит пользователь.
var AllowedServiceCategories = []string{
	"Сантехника",
	"Обои",
	"Электрика",
	"Плиточные работы",
	"Малярные работы",
	"Гипсокартонные работы",
	"Двери и окна",
	"Потолок",
}

// Notifier — односторонняя доставка сообщений в чат. Ошибки не возвращаются.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string)
}

// Handler оборачивает хранилище, загрузку файлов и шлюз уведомлений
type Handler struct {
	Store     StorageInterface
	Notifier  Notifier
	Uploads   *uploads.Store
	BotToken  string
	DevBypass bool
}

func NewHandler(store StorageInterface, notifier Notifier, up *uploads.Store, botToken string, devBypass bool) *Handler {
	return &Handler{
		Store:     store,
		Notifier:  notifier,
		Uploads:   up,
		BotToken:  botToken,
		DevBypass: devBypass,
	}
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ServiceCategoriesHandler отдаёт фиксированный список категорий
func (h *Handler) ServiceCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, AllowedServiceCategories)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

const devFallbackTelegramID = 999000

// authorize разрешает действующий аккаунт запроса: проверяет подпись initData,
// когда она есть и задан токен, иначе пропускает только в dev-режиме.
// При отказе сам пишет 401 и возвращает nil.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) *db.User {
	initData := r.Header.Get("X-Telegram-Init-Data")
	userJSON := r.Header.Get("X-Telegram-User")
	devUserID := r.Header.Get("X-Dev-User-Id")

	if initData != "" && h.BotToken != "" {
		if !auth.ValidateInitData(initData, h.BotToken) {
			http.Error(w, "Invalid Telegram authorization", http.StatusUnauthorized)
			return nil
		}
	} else if !h.DevBypass {
		http.Error(w, "Missing Telegram authorization", http.StatusUnauthorized)
		return nil
	}

	user, err := h.getOrCreateUser(r.Context(), userJSON, initData, devUserID)
	if err != nil {
		http.Error(w, "Invalid Telegram user", http.StatusUnauthorized)
		return nil
	}
	return user
}

// getOrCreateUser находит аккаунт по telegram_id или создаёт новый без
// зарегистрированных кабинетов. Поля профиля Telegram освежаются только
// непустыми значениями, составное имя заполняется один раз.
func (h *Handler) getOrCreateUser(ctx context.Context, userJSON, initData, devUserID string) (*db.User, error) {
	payload := auth.ExtractUserPayload(userJSON, initData)
	if payload == nil {
		if !h.DevBypass {
			return nil, errors.New("no telegram user payload")
		}
		telegramID := int64(devFallbackTelegramID)
		if devUserID != "" {
			parsed, err := strconv.ParseInt(devUserID, 10, 64)
			if err != nil {
				return nil, err
			}
			telegramID = parsed
		}
		payload = &auth.TelegramUser{
			ID:        telegramID,
			Username:  fmt.Sprintf("dev_%d", telegramID),
			FirstName: "Dev",
			LastName:  strconv.FormatInt(telegramID, 10),
		}
	}
	if payload.ID <= 0 {
		return nil, errors.New("invalid telegram id")
	}

	composed := strings.TrimSpace(strings.TrimSpace(payload.FirstName) + " " + strings.TrimSpace(payload.LastName))

	user, err := h.Store.GetUserByTelegramID(ctx, payload.ID)
	if err == sql.ErrNoRows {
		user = &db.User{
			TelegramID: payload.ID,
			Username:   payload.Username,
			FirstName:  payload.FirstName,
			LastName:   payload.LastName,
			FullName:   composed,
		}
		if err := h.Store.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	}
	if err != nil {
		return nil, err
	}

	// Не затираем сохранённые данные пустыми значениями из Telegram
	if payload.Username != "" {
		user.Username = payload.Username
	}
	if payload.FirstName != "" {
		user.FirstName = payload.FirstName
	}
	if payload.LastName != "" {
		user.LastName = payload.LastName
	}
	if user.FullName == "" && composed != "" {
		user.FullName = composed
	}
	if err := h.Store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// resolveMode выбирает активный кабинет запроса: явный параметр, затем
// сохранённая роль, затем зарегистрированный кабинет, по умолчанию клиент.
func resolveMode(user *db.User, mode string) string {
	clean := strings.ToLower(strings.TrimSpace(mode))
	if clean == RoleClient || clean == RolePerformer {
		return clean
	}
	if user.Role == RoleClient || user.Role == RolePerformer {
		return user.Role
	}
	if user.IsClientRegistered {
		return RoleClient
	}
	if user.IsPerformerRegistered {
		return RolePerformer
	}
	return RoleClient
}

func requireClient(w http.ResponseWriter, user *db.User) bool {
	if !user.IsClientRegistered {
		http.Error(w, "Client cabinet is not registered", http.StatusForbidden)
		return false
	}
	return true
}

func requirePerformer(w http.ResponseWriter, user *db.User) bool {
	if !user.IsPerformerRegistered {
		http.Error(w, "Performer cabinet is not registered", http.StatusForbidden)
		return false
	}
	return true
}

func requireRegistered(w http.ResponseWriter, user *db.User) bool {
	if !user.IsClientRegistered && !user.IsPerformerRegistered {
		http.Error(w, "Registration required", http.StatusForbidden)
		return false
	}
	return true
}

// normalizeCategories сверяет категории со справочником без учёта регистра,
// приводит к каноническому написанию и убирает дубликаты, сохраняя порядок.
func normalizeCategories(values []string) ([]string, error) {
	allowed := make(map[string]string, len(AllowedServiceCategories))
	for _, c := range AllowedServiceCategories {
		allowed[strings.ToLower(c)] = c
	}

	normalized := []string{}
	seen := map[string]bool{}
	for _, raw := range values {
		key := strings.ToLower(strings.TrimSpace(raw))
		if key == "" {
			continue
		}
		canonical, ok := allowed[key]
		if !ok {
			return nil, fmt.Errorf("unknown category: %s", raw)
		}
		if !seen[canonical] {
			seen[canonical] = true
			normalized = append(normalized, canonical)
		}
	}
	return normalized, nil
}

var phonePattern = regexp.MustCompile(`^[0-9+()\-\s]{7,64}$`)

func validatePhone(phone string) (string, error) {
	clean := strings.TrimSpace(phone)
	if !phonePattern.MatchString(clean) {
		return "", errors.New("invalid phone number")
	}
	return clean, nil
}
