package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tbourn/lifelog-publisher/internal/domain"
	"github.com/tbourn/lifelog-publisher/internal/failure"
)

const defaultImgurBaseURL = "https://api.imgur.com"

// Imgur uploads anonymously to the Imgur v3 API with a client id.
type Imgur struct {
	clientID   string
	baseURL    string
	httpClient *http.Client
}

// NewImgur constructs an Imgur provider. An empty baseURL uses the public
// API endpoint.
func NewImgur(clientID, baseURL string) (*Imgur, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, errors.New("imgur client id required")
	}
	if baseURL == "" {
		baseURL = defaultImgurBaseURL
	}
	return &Imgur{
		clientID:   clientID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Name implements Provider.
func (c *Imgur) Name() string { return "imgur" }

// Upload posts the file as multipart form data. Videos go in the "video"
// field, everything else in "image".
func (c *Imgur) Upload(ctx context.Context, f File, meta UploadMeta) (Ref, error) {
	const op = "imgur.upload"
	fh, err := f.Open()
	if err != nil {
		return Ref{}, err
	}
	defer fh.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	field := "image"
	if meta.Kind == domain.KindVideo {
		field = "video"
	}
	fw, err := mw.CreateFormFile(field, f.Name)
	if err != nil {
		return Ref{}, failure.New(failure.Unknown, op, err)
	}
	if _, err := io.Copy(fw, fh); err != nil {
		return Ref{}, failure.New(failure.FileUnreadable, op, err)
	}
	_ = mw.WriteField("type", "file")
	if meta.Title != "" {
		_ = mw.WriteField("title", meta.Title)
	}
	if meta.Description != "" {
		_ = mw.WriteField("description", meta.Description)
	}
	if err := mw.Close(); err != nil {
		return Ref{}, failure.New(failure.Unknown, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/3/image", &buf)
	if err != nil {
		return Ref{}, failure.New(failure.Unknown, op, err)
	}
	req.Header.Set("Authorization", "Client-ID "+c.clientID)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Ref{}, transportError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Ref{}, statusError(op, resp)
	}

	var out imgurResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Ref{}, failure.Transient(op, fmt.Errorf("decode response: %w", err))
	}
	if !out.Success {
		return Ref{}, failure.Rejected(op, fmt.Errorf("imgur status %d", out.Status))
	}
	return Ref{URL: out.Data.Link, DeleteToken: out.Data.DeleteHash}, nil
}

// Delete removes an anonymous upload by its deletehash.
func (c *Imgur) Delete(ctx context.Context, token string) error {
	const op = "imgur.delete"
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/3/image/"+token, nil)
	if err != nil {
		return failure.New(failure.Unknown, op, err)
	}
	req.Header.Set("Authorization", "Client-ID "+c.clientID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	return nil
}

type imgurResponse struct {
	Data struct {
		ID         string `json:"id"`
		Link       string `json:"link"`
		DeleteHash string `json:"deletehash"`
	} `json:"data"`
	Success bool `json:"success"`
	Status  int  `json:"status"`
}
