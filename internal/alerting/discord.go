package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/webhook"
	"github.com/rs/zerolog"
)

const (
	colorStandard = 0x2ECC71
	colorHigh     = 0xE74C3C
)

// DiscordNotifier 通过 webhook 推送 embed 消息。
type DiscordNotifier struct {
	client webhook.Client
	logger zerolog.Logger
}

// NewDiscordNotifier 解析 webhook URL 并构造客户端。
func NewDiscordNotifier(webhookURL string, logger zerolog.Logger) (*DiscordNotifier, error) {
	client, err := webhook.NewWithURL(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("create discord webhook client: %w", err)
	}
	return &DiscordNotifier{
		client: client,
		logger: logger.With().Str("component", "alert_discord").Logger(),
	}, nil
}

// Notify 发送 embed。
func (n *DiscordNotifier) Notify(ctx context.Context, note Notification) error {
	if _, err := n.client.CreateEmbeds([]discord.Embed{buildEmbed(note)}, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("send discord webhook: %w", err)
	}
	n.logger.Info().
		Str("route", note.Route).
		Str("profit", note.Profit.String()).
		Msg("告警已发送 (Discord)")
	return nil
}

// Close 释放 webhook 客户端。
func (n *DiscordNotifier) Close(ctx context.Context) {
	n.client.Close(ctx)
}

func buildEmbed(note Notification) discord.Embed {
	title := "Round-trip arb detected"
	color := colorStandard
	if note.Severity == SeverityHigh {
		title = "HIGH CONFIDENCE ARB"
		color = colorHigh
	}

	builder := discord.NewEmbedBuilder().
		SetTitle(title).
		SetColor(color).
		AddField("Route", note.Route, true).
		AddField("Path", note.ForwardLabel+" → "+note.ReturnLabel, true).
		AddField("Input", note.Input.String()+" "+note.HomeSymbol, true).
		AddField("Mid", note.MidAmount.StringFixed(6)+" "+note.MidSymbol, true).
		AddField("Output", note.Output.StringFixed(6)+" "+note.HomeSymbol, true).
		AddField("Profit", fmt.Sprintf("%s %s (%s%%)", note.Profit.StringFixed(6), note.HomeSymbol, note.ProfitPct.StringFixed(3)), false)
	if !note.At.IsZero() {
		builder.SetTimestamp(note.At.UTC().Truncate(time.Second))
	}
	if note.AdditionalMsg != "" {
		builder.SetDescription(note.AdditionalMsg)
	}
	return builder.Build()
}

var _ Notifier = (*DiscordNotifier)(nil)
