package publish

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tbourn/lifelog-publisher/internal/failure"
)

const (
	atomNS = "http://www.w3.org/2005/Atom"
	appNS  = "http://www.w3.org/2007/app"

	contentTypeMarkdown = "text/x-markdown"
)

// HatenaConfig holds the AtomPub credentials of one blog.
type HatenaConfig struct {
	HatenaID string
	BlogID   string
	APIKey   string
	Draft    bool
	// BaseURL overrides https://blog.hatena.ne.jp/{id}/{blog}/atom.
	BaseURL string
}

// Hatena publishes to Hatena Blog through its AtomPub API with WSSE auth.
type Hatena struct {
	cfg        HatenaConfig
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewHatena validates cfg and returns a gateway.
func NewHatena(cfg HatenaConfig) (*Hatena, error) {
	cfg.HatenaID = strings.TrimSpace(cfg.HatenaID)
	cfg.BlogID = strings.TrimSpace(cfg.BlogID)
	if cfg.HatenaID == "" || cfg.BlogID == "" || cfg.APIKey == "" {
		return nil, errors.New("hatena id, blog id and api key are required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://blog.hatena.ne.jp/%s/%s/atom", url.PathEscape(cfg.HatenaID), url.PathEscape(cfg.BlogID))
	}
	return &Hatena{
		cfg:        cfg,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}, nil
}

// Publish posts a new entry. Hatena answers 201 with the created entry.
func (h *Hatena) Publish(ctx context.Context, a Article) (Published, error) {
	return h.send(ctx, "hatena.publish", http.MethodPost, h.baseURL+"/entry", a)
}

// Update replaces an existing entry. externalID may be the full Atom id
// (tag:blog.hatena.ne.jp,2013:blog-...-<n>) or just its trailing number.
func (h *Hatena) Update(ctx context.Context, externalID string, a Article) (Published, error) {
	id := EntryID(externalID)
	if id == "" {
		return Published{}, failure.Rejected("hatena.update", errors.New("entry id required"))
	}
	return h.send(ctx, "hatena.update", http.MethodPut, h.baseURL+"/entry/"+url.PathEscape(id), a)
}

func (h *Hatena) send(ctx context.Context, op, method, endpoint string, a Article) (Published, error) {
	payload, err := h.entryXML(a)
	if err != nil {
		return Published{}, failure.New(failure.Unknown, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Published{}, failure.New(failure.Unknown, op, err)
	}
	wsse, err := h.wsse()
	if err != nil {
		return Published{}, failure.New(failure.Unknown, op, err)
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("X-WSSE", wsse)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return Published{}, failure.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = resp.Status
		}
		return Published{}, failure.FromStatus(op, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	var out entryResponse
	if err := xml.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Published{}, failure.Transient(op, fmt.Errorf("decode entry: %w", err))
	}
	p := Published{ID: EntryID(out.ID), URL: out.alternate()}
	if p.ID == "" || p.URL == "" {
		return Published{}, failure.Transient(op, fmt.Errorf("entry response missing id or alternate link"))
	}
	return p, nil
}

// wsse builds the X-WSSE UsernameToken header value. The digest is
// base64(sha1(nonce + created + apiKey)).
func (h *Hatena) wsse() (string, error) {
	nonce := make([]byte, 20)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	created := h.now().UTC().Format("2006-01-02T15:04:05Z")
	return wsseToken(h.cfg.HatenaID, h.cfg.APIKey, nonce, created), nil
}

func wsseToken(user, apiKey string, nonce []byte, created string) string {
	sum := sha1.New()
	sum.Write(nonce)
	sum.Write([]byte(created))
	sum.Write([]byte(apiKey))
	return fmt.Sprintf(`UsernameToken Username="%s", PasswordDigest="%s", Nonce="%s", Created="%s"`,
		user,
		base64.StdEncoding.EncodeToString(sum.Sum(nil)),
		base64.StdEncoding.EncodeToString(nonce),
		created,
	)
}

// EntryID returns the trailing numeric segment of an Atom entry id.
func EntryID(atomID string) string {
	atomID = strings.TrimSpace(atomID)
	if i := strings.LastIndex(atomID, "-"); i >= 0 {
		return atomID[i+1:]
	}
	return atomID
}

type entryRequest struct {
	XMLName  xml.Name      `xml:"entry"`
	Xmlns    string        `xml:"xmlns,attr"`
	XmlnsApp string        `xml:"xmlns:app,attr"`
	Title    string        `xml:"title"`
	Content  entryContent  `xml:"content"`
	Summary  string        `xml:"summary,omitempty"`
	Category []entryTerm   `xml:"category"`
	Control  entryAppDraft `xml:"app:control"`
}

type entryContent struct {
	Type string `xml:"type,attr"`
	Text string `xml:",chardata"`
}

type entryTerm struct {
	Term string `xml:"term,attr"`
}

type entryAppDraft struct {
	Draft string `xml:"app:draft"`
}

func (h *Hatena) entryXML(a Article) ([]byte, error) {
	draft := "no"
	if h.cfg.Draft {
		draft = "yes"
	}
	e := entryRequest{
		Xmlns:    atomNS,
		XmlnsApp: appNS,
		Title:    a.Title,
		Content:  entryContent{Type: contentTypeMarkdown, Text: a.Body},
		Summary:  a.Summary,
		Control:  entryAppDraft{Draft: draft},
	}
	for _, t := range a.Tags {
		if t = strings.TrimSpace(t); t != "" {
			e.Category = append(e.Category, entryTerm{Term: t})
		}
	}
	b, err := xml.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), b...), nil
}

type entryResponse struct {
	ID    string `xml:"id"`
	Links []struct {
		Rel  string `xml:"rel,attr"`
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

func (e entryResponse) alternate() string {
	for _, l := range e.Links {
		if l.Rel == "alternate" {
			return l.Href
		}
	}
	return ""
}
