package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dirkpokemon/pokemon-market-intel/internal/logging"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

// TelegramNotifier delivers alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram channel transport.
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "alert_telegram"),
	}
}

// Channel names the delivery channel.
func (n *TelegramNotifier) Channel() string {
	return storage.ChannelTelegram
}

// Send calls the sendMessage API with the rendered payload.
func (n *TelegramNotifier) Send(ctx context.Context, destination string, payload Payload) (string, error) {
	request := map[string]string{
		"chat_id": destination,
		"text":    RenderText(payload),
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode telegram response: %w", err)
	}
	if !result.OK {
		return "", fmt.Errorf("telegram returned ok=false")
	}

	externalID := strconv.FormatInt(result.Result.MessageID, 10)
	n.logger.Info().
		Str("chat_id", destination).
		Str("message_id", externalID).
		Msg("telegram alert delivered")
	return externalID, nil
}

var _ Notifier = (*TelegramNotifier)(nil)
