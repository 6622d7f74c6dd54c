// Package discord posts run results to a Discord channel webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/radar"
)

const (
	colorBlue = 0x0099FF
	// topN is how many ranked issues are listed.
	topN = 10
	// Discord rejects field values longer than this.
	maxFieldLen = 1024
)

type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type payload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Webhook implements radar.Notifier.
type Webhook struct {
	URL    string
	Client *http.Client
}

func (w *Webhook) client() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func entry(i int, c radar.Candidate) string {
	title := strings.ReplaceAll(c.Issue.Title, "`", "\\`")
	if r := []rune(title); len(r) > 50 {
		title = string(r[:50]) + "..."
	}
	return fmt.Sprintf("`%2d.` [**%s** #%d](%s) • %s\n    %s\n    %s • Score: %.2f",
		i, c.Repo.FullName(), c.Issue.Number, c.Issue.URL, radar.IssueType(c.Issue),
		title,
		radar.DifficultyLabel(c), c.Score.Total,
	)
}

func clip(s string) string {
	if len(s) <= maxFieldLen {
		return s
	}
	return s[:maxFieldLen-3] + "..."
}

// BuildEmbed renders the top of a report as a single embed, split over two
// fields of five entries.
func BuildEmbed(report *radar.Report) Embed {
	top := report.Ranked
	if len(top) > topN {
		top = top[:topN]
	}
	e := Embed{
		Title: "Issue radar results",
		Description: fmt.Sprintf("Scanned %d repositories, ranked %d issues, %d failures.",
			len(report.Repositories), len(report.Ranked), len(report.Failures)),
		Color:     colorBlue,
		Timestamp: report.FinishedAt.UTC().Format(time.RFC3339),
	}
	if len(top) == 0 {
		e.Fields = append(e.Fields, Field{Name: "Top issues", Value: "No new issues this run."})
		return e
	}

	var lines []string
	for i, c := range top {
		lines = append(lines, entry(i+1, c))
	}
	first := lines[:min(5, len(lines))]
	e.Fields = append(e.Fields, Field{
		Name:  fmt.Sprintf("Top %d issues", len(top)),
		Value: clip(strings.Join(first, "\n\n")),
	})
	if len(lines) > 5 {
		e.Fields = append(e.Fields, Field{
			Name:  "Continued",
			Value: clip(strings.Join(lines[5:], "\n\n")),
		})
	}
	return e
}

func (w *Webhook) Notify(ctx context.Context, report *radar.Report) error {
	body, err := json.Marshal(payload{Embeds: []Embed{BuildEmbed(report)}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client().Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}
