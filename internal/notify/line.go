package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tbourn/lifelog-publisher/internal/failure"
)

const (
	defaultLineBaseURL = "https://api.line.me"

	// LINE rejects text messages longer than this many characters.
	maxLineText = 5000
)

// Line pushes text messages through the LINE Messaging API.
type Line struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewLine constructs a LINE notifier. An empty baseURL uses api.line.me.
func NewLine(accessToken, baseURL string) (*Line, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, errors.New("line channel access token required")
	}
	if baseURL == "" {
		baseURL = defaultLineBaseURL
	}
	return &Line{
		token:      accessToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Notify implements Notifier.
func (l *Line) Notify(ctx context.Context, userID, text string) error {
	const op = "line.push"
	body, err := json.Marshal(pushRequest{
		To:       userID,
		Messages: []textMessage{{Type: "text", Text: truncate(text, maxLineText)}},
	})
	if err != nil {
		return failure.New(failure.Unknown, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/v2/bot/message/push", bytes.NewReader(body))
	if err != nil {
		return failure.New(failure.Unknown, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.token)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return failure.Transient(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return failure.FromStatus(op, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
