package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"roundtrip-arb-alerts/internal/arbitrage"
)

// Notification 封装一次套利告警的上下文。
type Notification struct {
	CycleID       uuid.UUID
	Route         string
	At            time.Time
	Severity      Severity
	ForwardLabel  string
	ReturnLabel   string
	Input         decimal.Decimal
	MidAmount     decimal.Decimal
	Output        decimal.Decimal
	Profit        decimal.Decimal
	ProfitPct     decimal.Decimal
	Threshold     decimal.Decimal
	HomeSymbol    string
	MidSymbol     string
	AdditionalMsg string
}

func newNotification(result arbitrage.CycleResult, threshold decimal.Decimal, severity Severity, at time.Time) Notification {
	return Notification{
		CycleID:      result.ID,
		Route:        result.Route,
		At:           at,
		Severity:     severity,
		ForwardLabel: result.Forward.Selected.Label,
		ReturnLabel:  result.Return.Selected.Label,
		Input:        result.Input,
		MidAmount:    result.Forward.Amount,
		Output:       result.Return.Amount,
		Profit:       result.Profit,
		ProfitPct:    result.ProfitPct,
		Threshold:    threshold,
		HomeSymbol:   result.HomeSymbol,
		MidSymbol:    result.MidSymbol,
	}
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送 Markdown 消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id":    n.chatID,
		"text":       renderMessage(note),
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
		}
	}

	n.logger.Info().
		Str("route", note.Route).
		Str("pair", note.ForwardLabel+"->"+note.ReturnLabel).
		Str("profit", note.Profit.String()).
		Msg("告警已发送 (Telegram)")
	return nil
}

// renderMessage 生成 Telegram Markdown 文本。
func renderMessage(note Notification) string {
	builder := strings.Builder{}
	if note.Severity == SeverityHigh {
		builder.WriteString("🚨 *HIGH CONFIDENCE ARB*\n")
	} else {
		builder.WriteString("*Round-trip arb detected*\n")
	}
	builder.WriteString(fmt.Sprintf("Route: `%s`\n", note.Route))
	builder.WriteString(fmt.Sprintf("Path: %s → %s\n", escapeMarkdown(note.ForwardLabel), escapeMarkdown(note.ReturnLabel)))
	builder.WriteString(fmt.Sprintf("Input: %s %s\n", note.Input.String(), note.HomeSymbol))
	builder.WriteString(fmt.Sprintf("Mid: %s %s\n", note.MidAmount.StringFixed(6), note.MidSymbol))
	builder.WriteString(fmt.Sprintf("Output: %s %s\n", note.Output.StringFixed(6), note.HomeSymbol))
	builder.WriteString(fmt.Sprintf("Profit: *%s %s* (%s%%)\n", note.Profit.StringFixed(6), note.HomeSymbol, note.ProfitPct.StringFixed(3)))
	builder.WriteString(fmt.Sprintf("Threshold: %s %s\n", note.Threshold.String(), note.HomeSymbol))
	if !note.At.IsZero() {
		builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// Broadcaster 将通知分发到所有渠道，单个渠道失败只记录日志。
type Broadcaster struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewBroadcaster 构造分发器，nil 渠道会被忽略。
func NewBroadcaster(logger zerolog.Logger, notifiers ...Notifier) *Broadcaster {
	kept := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return &Broadcaster{
		notifiers: kept,
		logger:    logger.With().Str("component", "alert_broadcaster").Logger(),
	}
}

// Len 返回渠道数量。
func (b *Broadcaster) Len() int {
	if b == nil {
		return 0
	}
	return len(b.notifiers)
}

// Send 逐个渠道推送并返回成功数量；失败不会向上传播。
func (b *Broadcaster) Send(ctx context.Context, note Notification) int {
	if b == nil {
		return 0
	}
	delivered := 0
	for _, n := range b.notifiers {
		if err := b.notifyOne(ctx, n, note); err != nil {
			b.logger.Error().Err(err).
				Str("channel", fmt.Sprintf("%T", n)).
				Str("route", note.Route).
				Msg("告警发送失败")
			continue
		}
		delivered++
	}
	return delivered
}

func (b *Broadcaster) notifyOne(ctx context.Context, n Notifier, note Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return n.Notify(ctx, note)
}

var _ Notifier = (*TelegramNotifier)(nil)
