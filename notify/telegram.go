package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTelegramAPI = "https://api.telegram.org"

	// Telegram limits an album to 10 items and a caption to 1024 characters.
	maxMediaGroup = 10
	maxCaption    = 1024

	// Longest rate-limit backoff honoured before giving up on a message.
	maxRetryAfter = 30 * time.Second
)

// Telegram is a Bot API chat.
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewTelegram(client *http.Client, baseURL, token, chatID string) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramAPI
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		client:  client,
		sleep:   sleepContext,
	}
}

func (t *Telegram) Send(ctx context.Context, text string) (Delivery, error) {
	return t.call(ctx, "sendMessage", map[string]any{
		"chat_id": t.chatID,
		"text":    text,
	})
}

// SendMediaGroup posts up to 10 photos by URL. The caption goes on the first
// photo; a caption over Telegram's limit is sent as a separate message after
// the album.
func (t *Telegram) SendMediaGroup(ctx context.Context, images []string, caption string) (Delivery, error) {
	if len(images) == 0 {
		return t.Send(ctx, caption)
	}
	if len(images) > maxMediaGroup {
		images = images[:maxMediaGroup]
	}

	inline := len([]rune(caption)) <= maxCaption
	media := make([]map[string]string, 0, len(images))
	for i, img := range images {
		item := map[string]string{"type": "photo", "media": img}
		if i == 0 && inline {
			item["caption"] = caption
		}
		media = append(media, item)
	}

	d, err := t.call(ctx, "sendMediaGroup", map[string]any{
		"chat_id": t.chatID,
		"media":   media,
	})
	if err != nil || !d.OK || inline {
		return d, err
	}
	return t.Send(ctx, caption)
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
	Result json.RawMessage `json:"result"`
}

func (t *Telegram) call(ctx context.Context, method string, payload map[string]any) (Delivery, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Delivery{}, err
	}

	d, retryAfter, err := t.post(ctx, method, body)
	if err != nil || d.StatusCode != http.StatusTooManyRequests || retryAfter <= 0 || retryAfter > maxRetryAfter {
		return d, err
	}

	log.Printf("[warn] telegram: %s rate limited, retrying in %s", method, retryAfter)
	if err := t.sleep(ctx, retryAfter); err != nil {
		return d, err
	}
	d, _, err = t.post(ctx, method, body)
	return d, err
}

func (t *Telegram) post(ctx context.Context, method string, body []byte) (Delivery, time.Duration, error) {
	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Delivery{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Delivery{}, 0, fmt.Errorf("telegram %s: %w", method, redactToken(err, t.token))
	}
	defer resp.Body.Close()

	d := Delivery{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return d, 0, fmt.Errorf("telegram %s: read body: %w", method, err)
	}

	var tr telegramResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		d.Description = strings.TrimSpace(string(data))
		return d, 0, nil
	}

	d.OK = tr.OK && resp.StatusCode == http.StatusOK
	d.Description = tr.Description
	d.MessageID = firstMessageID(tr.Result)
	return d, time.Duration(tr.Parameters.RetryAfter) * time.Second, nil
}

// firstMessageID reads message_id from either a single message or an album.
func firstMessageID(raw json.RawMessage) int64 {
	var msg struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(raw, &msg); err == nil && msg.MessageID != 0 {
		return msg.MessageID
	}
	var album []struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(raw, &album); err == nil && len(album) > 0 {
		return album[0].MessageID
	}
	return 0
}

// redactToken keeps the bot token out of logged URL errors.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
