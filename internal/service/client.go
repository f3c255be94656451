// Package service is the HTTP client for the durable message backend. It is
// deliberately narrow: list, send, edit, soft-delete, react, unreact and the
// two read markers. Every call is a remote round-trip that may fail with a
// transport error and is never assumed atomic with the matching push event.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"roomsync/internal/models"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL, token string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// ListMessages fetches one page, newest-first. A zero before time means the
// newest page.
func (c *Client) ListMessages(ctx context.Context, roomID string, limit int, before time.Time) ([]models.Message, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	path := fmt.Sprintf("/api/rooms/%s/messages?%s", url.PathEscape(roomID), q.Encode())

	var page []models.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", roomID, err)
	}
	return page, nil
}

func (c *Client) Send(ctx context.Context, draft models.Draft) (models.Message, error) {
	var msg models.Message
	path := fmt.Sprintf("/api/rooms/%s/messages", url.PathEscape(draft.RoomID))
	if err := c.do(ctx, http.MethodPost, path, draft, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (c *Client) Edit(ctx context.Context, id, content string) (models.Message, error) {
	var msg models.Message
	body := map[string]string{"content": content}
	path := fmt.Sprintf("/api/messages/%s", url.PathEscape(id))
	if err := c.do(ctx, http.MethodPatch, path, body, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (c *Client) SoftDelete(ctx context.Context, id string) error {
	path := fmt.Sprintf("/api/messages/%s", url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) SetPinned(ctx context.Context, id string, pinned bool) error {
	body := map[string]bool{"pinned": pinned}
	path := fmt.Sprintf("/api/messages/%s/pin", url.PathEscape(id))
	return c.do(ctx, http.MethodPut, path, body, nil)
}

func (c *Client) React(ctx context.Context, id, emoji string) error {
	path := fmt.Sprintf("/api/messages/%s/reactions/%s", url.PathEscape(id), url.PathEscape(emoji))
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

func (c *Client) Unreact(ctx context.Context, id, emoji string) error {
	path := fmt.Sprintf("/api/messages/%s/reactions/%s", url.PathEscape(id), url.PathEscape(emoji))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	path := fmt.Sprintf("/api/messages/%s/read", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) MarkRoomRead(ctx context.Context, roomID string) error {
	path := fmt.Sprintf("/api/rooms/%s/read", url.PathEscape(roomID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
