package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/councild/internal/council"
	httpapi "github.com/fyrsmithlabs/councild/internal/http"
)

// client calls the councild HTTP API.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// apiError is an error response from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError reads echo's {"message": ...} error body.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	return &apiError{Status: resp.StatusCode, Message: e.Message}
}

func (c *client) Health(ctx context.Context) (httpapi.HealthResponse, error) {
	var out httpapi.HealthResponse
	return out, c.do(ctx, http.MethodGet, "/health", nil, &out)
}

func (c *client) Status(ctx context.Context) (httpapi.StatusResponse, error) {
	var out httpapi.StatusResponse
	return out, c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out)
}

func (c *client) Field(ctx context.Context) (httpapi.FieldResponse, error) {
	var out httpapi.FieldResponse
	return out, c.do(ctx, http.MethodGet, "/api/v1/field", nil, &out)
}

func (c *client) Ceremonies(ctx context.Context) (httpapi.CeremoniesResponse, error) {
	var out httpapi.CeremoniesResponse
	return out, c.do(ctx, http.MethodGet, "/api/v1/ceremonies", nil, &out)
}

func (c *client) StartCeremony(ctx context.Context, id string) (httpapi.StartResponse, error) {
	var out httpapi.StartResponse
	return out, c.do(ctx, http.MethodPost, "/api/v1/ceremonies/"+url.PathEscape(id)+"/start", nil, &out)
}

func (c *client) Oracle(ctx context.Context, question string) (council.QuickResult, error) {
	var out council.QuickResult
	return out, c.do(ctx, http.MethodPost, "/api/v1/oracle", httpapi.OracleRequest{Question: question}, &out)
}

func (c *client) Council(ctx context.Context, topic string) (httpapi.CouncilResponse, error) {
	var out httpapi.CouncilResponse
	return out, c.do(ctx, http.MethodPost, "/api/v1/council", httpapi.CouncilRequest{Topic: topic}, &out)
}

func (c *client) Wisdom(ctx context.Context, query string, limit int) (httpapi.WisdomResponse, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/wisdom"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out httpapi.WisdomResponse
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// streamEvent is one server-sent event.
type streamEvent struct {
	Topic string
	Data  string
}

// Events streams bus events until ctx is cancelled or the server closes
// the stream. The client timeout does not apply.
func (c *client) Events(ctx context.Context, topics []string, fn func(streamEvent)) error {
	path := "/api/v1/events"
	if len(topics) > 0 {
		path += "?topic=" + url.QueryEscape(strings.Join(topics, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	stream := &http.Client{Transport: c.http.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	var ev streamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.Data != "" {
				fn(ev)
			}
			ev = streamEvent{}
		case strings.HasPrefix(line, ":"):
			// comment or heartbeat
		case strings.HasPrefix(line, "event:"):
			ev.Topic = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.Data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}
