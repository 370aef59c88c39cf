package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tbourn/lifelog-publisher/internal/failure"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-1.5-flash"

	// Largest request Gemini accepts with inline data.
	maxInlineBytes = 20 << 20
)

// GeminiClient calls the Gemini generateContent API. It serves both Describe
// (multimodal, inline data) and Compose.
type GeminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewGeminiClient constructs a client. An empty model uses gemini-1.5-flash,
// an empty baseURL the public endpoint.
func NewGeminiClient(apiKey, model, baseURL string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key required")
	}
	if model = normalizeModel(model); model == "" {
		model = defaultGeminiModel
	}
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}, nil
}

// Describe sends the media file inline and returns the model's description.
func (c *GeminiClient) Describe(ctx context.Context, mediaPath, hint string) (string, error) {
	const op = "gemini.describe"
	data, err := os.ReadFile(mediaPath)
	if err != nil {
		return "", failure.New(failure.FileUnreadable, op, err)
	}
	if len(data) > maxInlineBytes {
		return "", failure.Rejected(op, fmt.Errorf("media is %d bytes, inline limit is %d", len(data), maxInlineBytes))
	}
	mt := mimetype.Detect(data)

	reqBody := generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: describeUserPrompt(kindOf(mt.String()), hint)},
				{InlineData: &inlineData{MimeType: mt.String(), Data: base64.StdEncoding.EncodeToString(data)}},
			},
		}},
	}
	text, err := c.generate(ctx, op, reqBody)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Compose asks for a JSON article and parses the reply.
func (c *GeminiClient) Compose(ctx context.Context, mergedText string) (Composition, error) {
	const op = "gemini.compose"
	reqBody := generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: composeUserPrompt(mergedText)}},
		}},
		SystemInstruction: &content{Parts: []part{{Text: composeSystemPrompt}}},
		GenerationConfig:  &generationConfig{ResponseMimeType: "application/json"},
	}
	text, err := c.generate(ctx, op, reqBody)
	if err != nil {
		return Composition{}, err
	}
	return ParseComposition(text), nil
}

func (c *GeminiClient) generate(ctx context.Context, op string, reqBody generateRequest) (string, error) {
	var resp generateResponse
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	if err := c.doJSON(ctx, op, url, reqBody, &resp); err != nil {
		return "", err
	}
	if resp.PromptFeedback.BlockReason != "" {
		return "", failure.Rejected(op, fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", failure.Rejected(op, errors.New("empty response from gemini"))
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "models/")
	return model
}

func kindOf(mime string) string {
	switch {
	case strings.HasPrefix(mime, "video/"):
		return "video"
	case strings.HasPrefix(mime, "audio/"):
		return "audio clip"
	default:
		return "photo"
	}
}

func (c *GeminiClient) doJSON(ctx context.Context, op, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return failure.New(failure.Unknown, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return failure.New(failure.Unknown, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failure.Transient(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return failure.FromStatus(op, resp.StatusCode, fmt.Errorf("gemini api error: %s", errResp.Error.Message))
		}
		return failure.FromStatus(op, resp.StatusCode, fmt.Errorf("gemini api error: %s", resp.Status))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return failure.Transient(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
