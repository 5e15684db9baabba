package his

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Session identifies one authenticated portal login. The actual transport
// state (session cookie) lives in the manager's cookie jar; the Session value
// is the handle workers use to detect that a refresh already happened.
type Session struct {
	generation    int
	EstablishedAt time.Time
}

// Manager owns the single authenticated HTTP client shared by all workers.
// The portal is cookie-session based, so one login can serve many concurrent
// requests; the manager only serializes login/refresh/recycle so that a burst
// of expired requests cannot trigger a re-authentication storm.
type Manager struct {
	mu       sync.Mutex
	http     *http.Client
	baseURL  string
	username string
	password string
	timeout  time.Duration
	current  *Session
	gen      int
	closed   bool
}

var csrfPattern = regexp.MustCompile(`name="csrf_token"\s+value="([^"]+)"`)

// NewManager creates a session manager. No login happens until Acquire.
func NewManager(baseURL, username, password string, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	jar, _ := cookiejar.New(nil)
	return &Manager{
		http: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		timeout:  timeout,
	}
}

// HTTP returns the shared authenticated client.
func (m *Manager) HTTP() *http.Client {
	return m.http
}

// Acquire returns the current session, logging in first if there is none.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("session manager is closed")
	}
	if m.current != nil {
		return m.current, nil
	}
	return m.login(ctx)
}

// Valid reports whether s is still the live session.
func (m *Manager) Valid(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return s != nil && m.current == s
}

// Refresh re-authenticates after a request observed an expired session.
// Single-flight: if another worker already replaced stale, the newer session
// is returned without a second login.
func (m *Manager) Refresh(ctx context.Context, stale *Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("session manager is closed")
	}
	if m.current != nil && (stale == nil || m.current.generation > stale.generation) {
		return m.current, nil
	}
	m.current = nil
	return m.login(ctx)
}

// Invalidate drops s if it is still the live session, forcing the next
// Acquire to log in again.
func (m *Manager) Invalidate(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == s {
		m.current = nil
	}
}

// Recycle tears down the transport state entirely (fresh cookie jar, idle
// connections closed) and logs in again. The orchestrator calls this
// periodically to bound long-lived-connection degradation; it must only be
// called while no requests are in flight.
func (m *Manager) Recycle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("session manager is closed")
	}

	m.http.CloseIdleConnections()
	jar, _ := cookiejar.New(nil)
	m.http.Jar = jar
	m.current = nil

	_, err := m.login(ctx)
	return err
}

// Close releases the transport. Safe to call on every exit path.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.current = nil
	m.http.CloseIdleConnections()
}

// login performs the full form login. Caller must hold m.mu.
func (m *Manager) login(ctx context.Context) (*Session, error) {
	loginURL := m.baseURL + "/portal/login"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create login page request: %w", err)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, retryable("fetch login page", err)
	}
	page, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, retryable("read login page", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retryable("fetch login page", fmt.Errorf("status %d", resp.StatusCode))
	}

	form := url.Values{
		"username": {m.username},
		"password": {m.password},
	}
	if match := csrfPattern.FindSubmatch(page); match != nil {
		form.Set("csrf_token", string(match[1]))
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err = m.http.Do(req)
	if err != nil {
		return nil, retryable("submit login", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("login rejected with status %d: %w", resp.StatusCode, ErrAuthRequired)
	}
	if resp.StatusCode >= 400 {
		return nil, retryable("submit login", fmt.Errorf("status %d", resp.StatusCode))
	}

	m.gen++
	m.current = &Session{generation: m.gen, EstablishedAt: time.Now().UTC()}

	log.Info().
		Int("generation", m.current.generation).
		Msg("Authenticated portal session established")

	return m.current, nil
}
