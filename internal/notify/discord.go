// Package notify delivers cycle results to chat webhooks and live feed clients.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/launchwatch/engine/internal/store"
)

const (
	// maxEmbedsPerMessage is Discord's per-message embed limit
	maxEmbedsPerMessage = 10

	colorGeneral = 0x3498DB
	colorWatch   = 0xF1C40F
)

// Sink sends a batch of items to one webhook for one surface.
type Sink interface {
	Send(ctx context.Context, webhook, surface string, items []store.Annotated) error
}

// DiscordSink posts items as Discord webhook embeds.
type DiscordSink struct {
	client   *http.Client
	username string
	// ExplorerURL prefixes token and wallet links, e.g. https://basescan.org
	ExplorerURL string
}

func NewDiscordSink(timeout time.Duration) *DiscordSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordSink{
		client:      &http.Client{Timeout: timeout},
		username:    "launchwatch",
		ExplorerURL: "https://basescan.org",
	}
}

type discordMessage struct {
	Username string         `json:"username,omitempty"`
	Content  string         `json:"content,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	URL         string         `json:"url,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// Send posts items in chunks of ten embeds. It stops at the first failed chunk.
func (d *DiscordSink) Send(ctx context.Context, webhook, surface string, items []store.Annotated) error {
	if strings.TrimSpace(webhook) == "" {
		return fmt.Errorf("no webhook configured for %s surface", surface)
	}
	for start := 0; start < len(items); start += maxEmbedsPerMessage {
		end := start + maxEmbedsPerMessage
		if end > len(items) {
			end = len(items)
		}
		msg := discordMessage{Username: d.username, Embeds: make([]discordEmbed, 0, end-start)}
		for _, a := range items[start:end] {
			msg.Embeds = append(msg.Embeds, d.embed(surface, a))
		}
		if err := d.post(ctx, webhook, msg); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordSink) post(ctx context.Context, webhook string, msg discordMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

func (d *DiscordSink) embed(surface string, a store.Annotated) discordEmbed {
	item := a.Item
	title := coalesce(item.DisplayName, "Unnamed token")
	if item.DisplaySymbol != "" {
		title += " ($" + item.DisplaySymbol + ")"
	}

	e := discordEmbed{
		Title:  title,
		URL:    d.link("token", item.ItemID),
		Color:  colorGeneral,
		Footer: &discordFooter{Text: fmt.Sprintf("chain %d · via %s", item.NetworkScope, coalesce(item.Source, "unknown"))},
	}
	if surface == store.SurfaceWatch {
		e.Color = colorWatch
		if len(a.Reasons) > 0 {
			e.Description = "Watch match: " + strings.Join(a.Reasons, ", ")
		}
	}
	if !item.CreatedAt.IsZero() {
		e.Timestamp = item.CreatedAt.UTC().Format(time.RFC3339)
	}

	e.Fields = append(e.Fields, discordField{Name: "Token", Value: "`" + item.ItemID + "`"})
	if f, ok := d.actorField("Deployer", item.Primary); ok {
		e.Fields = append(e.Fields, f)
	}
	if f, ok := d.actorField("Fee recipient", item.Secondary); ok {
		e.Fields = append(e.Fields, f)
	}
	return e
}

func (d *DiscordSink) actorField(name string, a store.Actor) (discordField, bool) {
	if a.IsZero() {
		return discordField{}, false
	}
	var parts []string
	if a.Address != "" {
		parts = append(parts, fmt.Sprintf("[%s](%s)", ShortAddress(a.Address), d.link("address", a.Address)))
	}
	if a.HandleA != "" {
		parts = append(parts, fmt.Sprintf("[@%s](https://x.com/%s)", a.HandleA, a.HandleA))
	}
	if a.HandleB != "" {
		parts = append(parts, fmt.Sprintf("[%s](https://warpcast.com/%s)", a.HandleB, a.HandleB))
	}
	return discordField{Name: name, Value: strings.Join(parts, " · "), Inline: true}, true
}

func (d *DiscordSink) link(kind, address string) string {
	if d.ExplorerURL == "" || address == "" {
		return ""
	}
	return strings.TrimRight(d.ExplorerURL, "/") + "/" + kind + "/" + address
}

// ShortAddress renders 0x1234...abcd for display.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
