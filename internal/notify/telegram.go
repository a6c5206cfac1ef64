package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TelegramNotifier отправляет сообщения через Bot API методом sendMessage.
type TelegramNotifier struct {
	BaseURL string

	botToken string
	client   *http.Client
}

func NewTelegramNotifier(botToken string) *TelegramNotifier {
	return &TelegramNotifier{
		BaseURL:  "https://api.telegram.org",
		botToken: botToken,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify доставляет текст в чат по принципу best-effort: ошибки логируются
// и никогда не возвращаются вызывающему.
func (n *TelegramNotifier) Notify(ctx context.Context, chatID int64, text string) {
	if n.botToken == "" {
		return
	}

	form := url.Values{
		"chat_id": {strconv.FormatInt(chatID, 10)},
		"text":    {text},
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.BaseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		log.Printf("notify: build request failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("notify: send to chat %d failed: %v", chatID, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("notify: telegram returned status %d for chat %d", resp.StatusCode, chatID)
	}
}
