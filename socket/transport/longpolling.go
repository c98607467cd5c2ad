package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kleeedolinux/actionsocket/debug"
	"github.com/kleeedolinux/actionsocket/internal/json"
	"github.com/kleeedolinux/actionsocket/internal/sync"
	"github.com/tomruk/yeast"
)

// LongPollingTransport talks to the /connect, /poll, /send and /disconnect
// endpoints below baseURL.
type LongPollingTransport struct {
	mu            sync.Mutex
	client        *http.Client
	baseURL       *url.URL
	rawURL        string
	sessionID     string
	connected     bool
	incomingQueue chan []byte
	headers       http.Header
	yeaster       *yeast.Yeaster

	ctx        context.Context
	cancelFunc context.CancelFunc

	retryInterval time.Duration
	timeout       time.Duration
}

type LongPollingOption func(*LongPollingTransport)

func WithLongPollingHeaders(headers http.Header) LongPollingOption {
	return func(t *LongPollingTransport) {
		for k, v := range headers {
			t.headers[k] = v
		}
	}
}

// WithPollInterval sets the pause before polling again after a failed poll.
func WithPollInterval(interval time.Duration) LongPollingOption {
	return func(t *LongPollingTransport) {
		t.retryInterval = interval
	}
}

// WithTimeout bounds every HTTP request. It must exceed the server's poll wait.
func WithTimeout(timeout time.Duration) LongPollingOption {
	return func(t *LongPollingTransport) {
		t.timeout = timeout
	}
}

func WithHTTPClient(client *http.Client) LongPollingOption {
	return func(t *LongPollingTransport) {
		t.client = client
	}
}

func NewLongPollingTransport(baseURL string, opts ...LongPollingOption) *LongPollingTransport {
	t := &LongPollingTransport{
		client:        &http.Client{},
		rawURL:        baseURL,
		headers:       make(http.Header),
		incomingQueue: make(chan []byte, 100),
		yeaster:       yeast.New(),
		retryInterval: time.Second,
		timeout:       45 * time.Second,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *LongPollingTransport) endpoint(name string, sessionID string) string {
	u := *t.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + name
	q := u.Query()
	if sessionID != "" {
		q.Set("sessionId", sessionID)
	}
	q.Set("t", t.yeaster.Yeast())
	u.RawQuery = q.Encode()
	return u.String()
}

func (t *LongPollingTransport) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	for k, values := range t.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// Connect opens a session. ctx bounds the handshake request only; the
// session lives until Close.
func (t *LongPollingTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	if t.baseURL == nil {
		u, err := url.Parse(t.rawURL)
		if err != nil {
			return err
		}
		t.baseURL = u
	}

	req, err := t.newRequest(ctx, http.MethodPost, t.endpoint("connect", ""), nil)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to connect: %s", resp.Status)
	}

	var connectResp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&connectResp); err != nil {
		return err
	}
	if connectResp.SessionID == "" {
		return errors.New("failed to connect: empty session id")
	}

	t.ctx, t.cancelFunc = context.WithCancel(context.Background())
	t.sessionID = connectResp.SessionID
	t.connected = true

	debug.Printf("LongPollingTransport: session %s opened", t.sessionID)

	go t.poll(t.ctx, t.sessionID)

	return nil
}

func (t *LongPollingTransport) poll(ctx context.Context, sessionID string) {
	for {
		msgs, err := t.fetchMessages(ctx, sessionID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			debug.Printf("LongPollingTransport: poll failed: %v", err)
			if errors.Is(err, errSessionGone) {
				t.cancel()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.retryInterval):
			}
			continue
		}

		for _, msg := range msgs {
			select {
			case t.incomingQueue <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

var errSessionGone = errors.New("session gone")

func (t *LongPollingTransport) fetchMessages(ctx context.Context, sessionID string) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := t.newRequest(ctx, http.MethodGet, t.endpoint("poll", sessionID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, errSessionGone
	default:
		return nil, fmt.Errorf("failed to poll: %s", resp.Status)
	}

	var messages []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, err
	}

	result := make([][]byte, len(messages))
	for i, msg := range messages {
		result[i] = []byte(msg)
	}
	return result, nil
}

func (t *LongPollingTransport) Send(data []byte) error {
	t.mu.Lock()
	sessionID := t.sessionID
	ctx := t.ctx
	t.mu.Unlock()

	if sessionID == "" {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := t.newRequest(ctx, http.MethodPost, t.endpoint("send", sessionID), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to send message: %s - %s", resp.Status, body)
	}
	return nil
}

func (t *LongPollingTransport) Receive() ([]byte, error) {
	t.mu.Lock()
	connected := t.connected
	ctx := t.ctx
	t.mu.Unlock()

	if !connected {
		return nil, ErrNotConnected
	}

	select {
	case msg := <-t.incomingQueue:
		return msg, nil
	case <-ctx.Done():
		return nil, errors.New("connection closed")
	}
}

// cancel ends the session locally without notifying the server.
func (t *LongPollingTransport) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelFunc != nil {
		t.cancelFunc()
	}
}

func (t *LongPollingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := t.newRequest(ctx, http.MethodPost, t.endpoint("disconnect", t.sessionID), nil)
	if err == nil {
		if resp, err := t.client.Do(req); err == nil {
			resp.Body.Close()
		}
	}

	t.cancelFunc()
	t.connected = false
	t.sessionID = ""

	// Drop frames of the finished session.
	for {
		select {
		case <-t.incomingQueue:
		default:
			return nil
		}
	}
}
