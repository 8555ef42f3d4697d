package messagestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes bounds how much of a message API response is read.
const maxResponseBytes = 1 << 20

// HTTPStore talks to the platform's message REST API:
//
//	GET {base}/api/v4/posts/{id}         -> {"id", "message", "props": {"blocks": [...]}}
//	PUT {base}/api/v4/posts/{id}/patch   <- {"message", "props": {"blocks": [...]}}
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPStore returns a store for baseURL authenticating with a bot token.
// A nil client gets a 10 s timeout.
func NewHTTPStore(baseURL, token string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

const blocksProp = "blocks"

type post struct {
	ID      string                     `json:"id,omitempty"`
	Message string                     `json:"message"`
	Props   map[string]json.RawMessage `json:"props"`
}

// FetchOriginal loads a post and decodes its block layout.
func (s *HTTPStore) FetchOriginal(ctx context.Context, messageID string) (Message, error) {
	var p post
	if err := s.do(ctx, http.MethodGet, s.postURL(messageID), nil, &p); err != nil {
		return Message{}, err
	}

	msg := Message{Text: p.Message}
	if raw, ok := p.Props[blocksProp]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &msg.Blocks); err != nil {
			return Message{}, fmt.Errorf("messagestore: decode blocks of %s: %w", messageID, err)
		}
	}
	for k, v := range p.Props {
		if k == blocksProp {
			continue
		}
		if msg.Props == nil {
			msg.Props = make(map[string]json.RawMessage, len(p.Props))
		}
		msg.Props[k] = v
	}
	return msg, nil
}

// Update patches a post's text and blocks.
func (s *HTTPStore) Update(ctx context.Context, messageID string, msg Message) error {
	layout, err := json.Marshal(msg.Blocks)
	if err != nil {
		return fmt.Errorf("messagestore: encode blocks: %w", err)
	}
	props := make(map[string]json.RawMessage, len(msg.Props)+1)
	for k, v := range msg.Props {
		props[k] = v
	}
	props[blocksProp] = layout

	body, err := json.Marshal(post{Message: msg.Text, Props: props})
	if err != nil {
		return fmt.Errorf("messagestore: encode patch: %w", err)
	}
	return s.do(ctx, http.MethodPut, s.postURL(messageID)+"/patch", body, nil)
}

func (s *HTTPStore) postURL(messageID string) string {
	return s.baseURL + "/api/v4/posts/" + url.PathEscape(messageID)
}

func (s *HTTPStore) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("messagestore: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("messagestore: %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("messagestore: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("messagestore: %s %s: status %d", method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("messagestore: decode response: %w", err)
	}
	return nil
}
