package media

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

	"github.com/tbourn/lifelog-publisher/internal/failure"
)

const defaultGooglePhotosBaseURL = "https://photoslibrary.googleapis.com"

// GooglePhotos uploads to the Google Photos Library API in two steps: raw
// bytes to /v1/uploads, then mediaItems:batchCreate with the upload token.
type GooglePhotos struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewGooglePhotos constructs a GooglePhotos provider authenticated with an
// OAuth access token.
func NewGooglePhotos(token, baseURL string) (*GooglePhotos, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("google photos access token required")
	}
	if baseURL == "" {
		baseURL = defaultGooglePhotosBaseURL
	}
	return &GooglePhotos{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Name implements Provider.
func (c *GooglePhotos) Name() string { return "googlephotos" }

// Upload implements Provider. The media item id is the deletion token.
func (c *GooglePhotos) Upload(ctx context.Context, f File, meta UploadMeta) (Ref, error) {
	uploadToken, err := c.uploadBytes(ctx, f)
	if err != nil {
		return Ref{}, err
	}

	const op = "googlephotos.batchCreate"
	payload := batchCreateRequest{NewMediaItems: []newMediaItem{{
		Description: meta.Description,
		SimpleMediaItem: simpleMediaItem{
			UploadToken: uploadToken,
			FileName:    f.Name,
		},
	}}}
	body, err := json.Marshal(payload)
	if err != nil {
		return Ref{}, failure.New(failure.Unknown, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/mediaItems:batchCreate", bytes.NewReader(body))
	if err != nil {
		return Ref{}, failure.New(failure.Unknown, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Ref{}, transportError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Ref{}, statusError(op, resp)
	}

	var out batchCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Ref{}, failure.Transient(op, fmt.Errorf("decode response: %w", err))
	}
	if len(out.NewMediaItemResults) == 0 {
		return Ref{}, failure.Transient(op, ErrMalformedRef)
	}
	res := out.NewMediaItemResults[0]
	if res.Status.Code != 0 {
		return Ref{}, failure.Rejected(op, fmt.Errorf("code %d: %s", res.Status.Code, res.Status.Message))
	}
	url := res.MediaItem.ProductURL
	if url == "" {
		url = res.MediaItem.BaseURL
	}
	return Ref{URL: url, DeleteToken: res.MediaItem.ID}, nil
}

func (c *GooglePhotos) uploadBytes(ctx context.Context, f File) (string, error) {
	const op = "googlephotos.upload"
	fh, err := f.Open()
	if err != nil {
		return "", err
	}
	defer fh.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/uploads", fh)
	if err != nil {
		return "", failure.New(failure.Unknown, op, err)
	}
	req.ContentLength = f.Size
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Goog-Upload-Protocol", "raw")
	req.Header.Set("X-Goog-Upload-Content-Type", f.ContentType)
	req.Header.Set("X-Goog-Upload-File-Name", f.Name)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", statusError(op, resp)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", transportError(op, err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", failure.Transient(op, errors.New("empty upload token"))
	}
	return token, nil
}

// Delete is a no-op: the Library API cannot remove media items.
func (c *GooglePhotos) Delete(ctx context.Context, token string) error { return nil }

type batchCreateRequest struct {
	NewMediaItems []newMediaItem `json:"newMediaItems"`
}

type newMediaItem struct {
	Description     string          `json:"description,omitempty"`
	SimpleMediaItem simpleMediaItem `json:"simpleMediaItem"`
}

type simpleMediaItem struct {
	UploadToken string `json:"uploadToken"`
	FileName    string `json:"fileName,omitempty"`
}

type batchCreateResponse struct {
	NewMediaItemResults []struct {
		UploadToken string `json:"uploadToken"`
		Status      struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"status"`
		MediaItem struct {
			ID         string `json:"id"`
			ProductURL string `json:"productUrl"`
			BaseURL    string `json:"baseUrl"`
		} `json:"mediaItem"`
	} `json:"newMediaItemResults"`
}
