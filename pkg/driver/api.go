package driver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amelia-dev/amelia/pkg/version"
)

// APIDriver talks to an agent gateway over HTTP. One-shot generation is a
// plain JSON round trip; agentic execution streams newline-delimited JSON
// messages over a chunked response.
type APIDriver struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewAPIDriver creates an APIDriver for the given gateway URL. The client's
// timeout covers one-shot calls only; streaming calls rely on ctx.
func NewAPIDriver(baseURL, apiKey string) *APIDriver {
	return &APIDriver{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

type generatePayload struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Model        string `json:"model,omitempty"`
}

type agenticPayload struct {
	Prompt       string `json:"prompt"`
	Cwd          string `json:"cwd,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Model        string `json:"model,omitempty"`
}

// Generate posts a single prompt and decodes the JSON response body.
func (d *APIDriver) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	start := time.Now()
	body, err := d.post(ctx, "/v1/generate", generatePayload{
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var envelope struct {
		Content string     `json:"content"`
		Usage   *wireUsage `json:"usage,omitempty"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode generate response: %w", err)
	}

	result := &GenerateResult{
		Content: envelope.Content,
		Usage:   usageFromWire(envelope.Usage, start),
	}
	if req.Schema != "" {
		structured, err := extractJSON(envelope.Content)
		if err != nil {
			return nil, err
		}
		if err := validateAgainstSchema(structured, req.Schema); err != nil {
			return nil, err
		}
		result.Structured = structured
	}
	return result, nil
}

// ExecuteAgentic opens a streaming request and decodes one message per line
// until the body ends. Closing ctx aborts the request and the stream.
func (d *APIDriver) ExecuteAgentic(ctx context.Context, req AgenticRequest) (<-chan AgenticMessage, error) {
	body, err := d.post(ctx, "/v1/agentic", agenticPayload{
		Prompt:       req.Prompt,
		Cwd:          req.Cwd,
		SessionID:    req.SessionID,
		Instructions: req.Instructions,
		Model:        req.Model,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ch := make(chan AgenticMessage)
	go func() {
		defer close(ch)
		defer body.Close()

		sawResult := false
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var wire wireMessage
			if err := json.Unmarshal(line, &wire); err != nil {
				slog.Warn("Skipping malformed stream line", "error", err)
				continue
			}
			msg := fromWire(&wire, start)
			if msg == nil {
				continue
			}
			if _, ok := msg.(*ResultMessage); ok {
				sawResult = true
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
		if sawResult {
			return
		}
		content := "stream ended without a result"
		if err := scanner.Err(); err != nil {
			content = err.Error()
		}
		final := &ResultMessage{
			Content: content,
			IsError: true,
			Usage:   Usage{DurationMS: time.Since(start).Milliseconds()},
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// CleanupSession asks the gateway to discard server-side session state.
func (d *APIDriver) CleanupSession(ctx context.Context, sessionID string) error {
	endpoint := d.baseURL + "/v1/sessions/" + url.PathEscape(sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build cleanup request: %w", err)
	}
	d.authorize(httpReq)
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return Transient(fmt.Errorf("session cleanup failed: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("session cleanup returned %d", resp.StatusCode)
	}
	return nil
}

func (d *APIDriver) post(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	d.authorize(httpReq)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transient(fmt.Errorf("request to %s failed: %w", path, err))
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		err := fmt.Errorf("%s returned %d: %s", path, resp.StatusCode,
			strings.TrimSpace(string(detail)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, Transient(err)
		}
		return nil, err
	}
	return resp.Body, nil
}

func (d *APIDriver) authorize(req *http.Request) {
	req.Header.Set("User-Agent", version.Full())
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}
}
