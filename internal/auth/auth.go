package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// TelegramUser — полезная нагрузка поля user из initData Telegram WebApp.
type TelegramUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ValidateInitData проверяет подпись initData Telegram WebApp.
// Ключ подписи — SHA256(botToken), подпись — HMAC-SHA256 от канонической
// строки "k=v" по отсортированным ключам без поля hash. Сравнение
// с присланным hash выполняется за постоянное время.
func ValidateInitData(initData, botToken string) bool {
	if initData == "" || botToken == "" {
		return false
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return false
	}
	pairs := make(map[string]string, len(values))
	for k, vs := range values {
		// Дубликат ключа делает каноническую строку неоднозначной
		if len(vs) != 1 {
			return false
		}
		pairs[k] = vs[0]
	}

	receivedHash := pairs["hash"]
	if receivedHash == "" {
		return false
	}
	delete(pairs, "hash")

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+pairs[k])
	}
	checkString := strings.Join(lines, "\n")

	secretKey := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secretKey[:])
	mac.Write([]byte(checkString))
	calculatedHash := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(calculatedHash), []byte(receivedHash))
}

// ExtractUserPayload достаёт данные пользователя Telegram: сначала из явного
// JSON заголовка, иначе из поля user внутри initData. nil, если данных нет.
func ExtractUserPayload(userJSON, initData string) *TelegramUser {
	if userJSON != "" {
		var u TelegramUser
		if err := json.Unmarshal([]byte(userJSON), &u); err == nil && u.ID != 0 {
			return &u
		}
	}

	if initData != "" {
		values, err := url.ParseQuery(initData)
		if err != nil {
			return nil
		}
		rawUser := values.Get("user")
		if rawUser == "" {
			return nil
		}
		var u TelegramUser
		if err := json.Unmarshal([]byte(rawUser), &u); err == nil && u.ID != 0 {
			return &u
		}
	}
	return nil
}
