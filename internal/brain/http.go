package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/confidant/internal/reliability"
)

// HTTPAdapter forwards requests to a generic JSON, SSE or NDJSON endpoint.
type HTTPAdapter struct {
	url        string
	client     *http.Client
	strict     bool
	maxRetries int
	backoff    time.Duration
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return NewHTTPAdapterWithOptions(url, false, 60*time.Second, 2)
}

// NewHTTPAdapterWithOptions builds an adapter. In strict mode every streamed
// line must be valid JSON.
func NewHTTPAdapterWithOptions(url string, strict bool, timeout time.Duration, maxRetries int) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &HTTPAdapter{
		url:        strings.TrimSpace(url),
		client:     &http.Client{Timeout: timeout},
		strict:     strict,
		maxRetries: maxRetries,
		backoff:    250 * time.Millisecond,
	}
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("brain http status %d: %s", e.code, e.body)
}

func (a *HTTPAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, a.backoff, 4*time.Second)):
			}
		}
		res, err := a.send(ctx, payload)
		if err != nil {
			lastErr = err
			var statusErr *httpStatusError
			if errors.As(err, &statusErr) && reliability.IsRetryableHTTPStatus(statusErr.code) {
				continue
			}
			if reliability.IsRetryableError(err) && ctx.Err() == nil {
				continue
			}
			return Response{}, err
		}
		resp, err := a.consume(res, onDelta)
		res.Body.Close()
		return resp, err
	}
	return Response{}, lastErr
}

func (a *HTTPAdapter) send(ctx context.Context, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, &httpStatusError{code: res.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return res, nil
}

func (a *HTTPAdapter) consume(res *http.Response, onDelta DeltaHandler) (Response, error) {
	ct := strings.ToLower(res.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/event-stream"):
		return a.consumeSSE(res.Body, onDelta)
	case strings.Contains(ct, "application/x-ndjson"):
		return a.consumeNDJSON(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	text := ""
	if err := json.Unmarshal(body, &obj); err != nil {
		text = strings.TrimSpace(string(body))
	} else {
		text = strings.TrimSpace(extractText(obj))
	}
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text, Provider: ProviderHTTP}, nil
}

func (a *HTTPAdapter) consumeSSE(body io.Reader, onDelta DeltaHandler) (Response, error) {
	return a.consumeLines(body, onDelta, func(line string) (string, bool) {
		if !strings.HasPrefix(line, "data:") {
			// Comments, event names and ids carry no text.
			return "", false
		}
		return strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "), true
	})
}

func (a *HTTPAdapter) consumeNDJSON(body io.Reader, onDelta DeltaHandler) (Response, error) {
	return a.consumeLines(body, onDelta, func(line string) (string, bool) {
		return line, true
	})
}

func (a *HTTPAdapter) consumeLines(body io.Reader, onDelta DeltaHandler, payloadOf func(string) (string, bool)) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		raw := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		payload, ok := payloadOf(raw)
		if !ok {
			continue
		}
		line := strings.TrimSpace(payload)
		if line == "[DONE]" {
			break
		}

		var delta string
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
		} else if a.strict {
			return Response{}, fmt.Errorf("invalid stream payload: %w", err)
		} else {
			// Plain text keeps its leading space so words do not fuse.
			delta = payload
		}
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Response{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}

	return Response{Text: strings.TrimSpace(out.String()), Provider: ProviderHTTP}, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message", "response"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
