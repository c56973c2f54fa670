package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/confidant/internal/protocol"
)

type options struct {
	baseURL        string
	email          string
	password       string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type wsEnvelope struct {
	Type      string `json:"type"`
	TurnID    string `json:"turn_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Provider  string `json:"provider,omitempty"`
	TextDelta string `json:"text_delta,omitempty"`
}

type turnResult struct {
	firstDelta time.Duration
	total      time.Duration
	provider   string
}

var defaultUtterances = []string{
	"I've been feeling anxious about work lately.",
	"My presentation is tomorrow and I can't sleep.",
	"A friend stopped replying to my messages.",
	"Today was actually a bit better.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "Confidant base URL")
	flag.StringVar(&cfg.email, "email", "", "optional account email; turns are anonymous without it")
	flag.StringVar(&cfg.password, "password", "", "password for -email")
	flag.IntVar(&cfg.turns, "turns", 10, "number of chat turns to send")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for assistant_turn_end per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "messages separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-turn progress")
	flag.Parse()

	return normalizeOptions(cfg, textsRaw, interTurnMS, turnTimeoutMS)
}

func normalizeOptions(cfg options, textsRaw string, interTurnMS, turnTimeoutMS int) (options, error) {
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.email != "" && cfg.password == "" {
		return options{}, fmt.Errorf("password is required with email")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
		return cfg, nil
	}
	for _, part := range strings.Split(textsRaw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			cfg.texts = append(cfg.texts, t)
		}
	}
	if len(cfg.texts) == 0 {
		return options{}, fmt.Errorf("texts produced no non-empty messages")
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	token := ""
	if cfg.email != "" {
		var err error
		token, err = signin(ctx, httpClient, cfg)
		if err != nil {
			return fmt.Errorf("signin: %w", err)
		}
	}

	wsURL, err := chatWSURL(cfg.baseURL, token)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan wsEnvelope, 256)
	readErrCh := make(chan error, 1)
	go readLoop(conn, events, readErrCh)

	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		turnID := fmt.Sprintf("perf-%d", i+1)
		start := time.Now()
		if err := conn.WriteJSON(protocol.ClientMessage{Type: protocol.TypeClientMessage, TurnID: turnID, Text: text}); err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}
		res, err := awaitTurnEnd(events, readErrCh, turnID, start, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		results = append(results, res)
		if cfg.verbose {
			fmt.Printf("perfchat: turn %d/%d provider=%s first_delta=%s total=%s\n",
				i+1, cfg.turns, res.provider, res.firstDelta.Round(time.Millisecond), res.total.Round(time.Millisecond))
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(os.Stdout, results)
	return nil
}

func signin(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(map[string]string{"email": cfg.email, "password": cfg.password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/api/auth/signin", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("missing token in response")
	}
	return out.Token, nil
}

func chatWSURL(baseURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/chat/ws"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		events <- env
	}
}

func awaitTurnEnd(events <-chan wsEnvelope, readErrCh <-chan error, turnID string, start time.Time, timeout time.Duration) (turnResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res turnResult
	for {
		select {
		case err := <-readErrCh:
			return turnResult{}, fmt.Errorf("ws read: %w", err)
		case <-timer.C:
			return turnResult{}, errors.New("timed out waiting for assistant_turn_end")
		case env := <-events:
			if env.TurnID != "" && env.TurnID != turnID {
				continue
			}
			switch env.Type {
			case string(protocol.TypeAssistantTextDelta):
				if res.firstDelta == 0 {
					res.firstDelta = time.Since(start)
				}
			case string(protocol.TypeAssistantTurnEnd):
				res.total = time.Since(start)
				res.provider = env.Provider
				if res.firstDelta == 0 {
					res.firstDelta = res.total
				}
				return res, nil
			case string(protocol.TypeErrorEvent):
				return turnResult{}, fmt.Errorf("error_event code=%s detail=%s", env.Code, env.Detail)
			}
		}
	}
}

func printSummary(w io.Writer, results []turnResult) {
	first := make([]float64, 0, len(results))
	total := make([]float64, 0, len(results))
	for _, r := range results {
		first = append(first, float64(r.firstDelta.Milliseconds()))
		total = append(total, float64(r.total.Milliseconds()))
	}
	fmt.Fprintf(w, "perfchat: %d turns\n", len(results))
	fmt.Fprintf(w, "  first_delta p50=%.0fms p95=%.0fms\n", percentile(first, 50), percentile(first, 95))
	fmt.Fprintf(w, "  turn_total  p50=%.0fms p95=%.0fms\n", percentile(total, 50), percentile(total, 95))
}

// percentile uses nearest-rank on a sorted copy.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
