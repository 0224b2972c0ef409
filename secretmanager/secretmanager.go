// Package secretmanager fetches and caches the deployment-wide HMAC
// signing secret the token package verifies call tokens against. It
// uses a Vault read-path with a cache-by-TTL shape, trimmed to the
// single secret this engine needs; the multi-tenant key-rotation,
// mTLS, and bring-your-own-key concerns a general secrets client would
// carry have no use here and are left out.
package secretmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Config configures the Vault-backed fetch path. When Enabled is
// false, Get falls back to the TOKEN_SIGNING_SECRET environment
// variable, the usual escape hatch for a disabled Vault integration.
type Config struct {
	Enabled   bool
	Address   string
	Token     string
	MountPath string
	Path      string // secret path under MountPath holding the signing key
	RenewTTL  time.Duration
}

// Manager fetches and caches the signing secret.
type Manager struct {
	cfg    Config
	client *http.Client

	mu        sync.RWMutex
	cached    string
	expiresAt time.Time
}

// New creates a Manager. MountPath defaults to "secret", Path to
// "meeting-engine/token-signing", RenewTTL to 5 minutes.
func New(cfg Config) *Manager {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.Path == "" {
		cfg.Path = "meeting-engine/token-signing"
	}
	if cfg.RenewTTL == 0 {
		cfg.RenewTTL = 5 * time.Minute
	}
	return &Manager{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Get returns the current signing secret, refreshing from Vault if the
// cached value has expired. With Vault disabled it reads
// TOKEN_SIGNING_SECRET directly.
func (m *Manager) Get(ctx context.Context) (string, error) {
	if !m.cfg.Enabled {
		if secret := os.Getenv("TOKEN_SIGNING_SECRET"); secret != "" {
			return secret, nil
		}
		return "", fmt.Errorf("secret manager disabled and TOKEN_SIGNING_SECRET not set")
	}

	m.mu.RLock()
	if m.cached != "" && time.Now().Before(m.expiresAt) {
		secret := m.cached
		m.mu.RUnlock()
		return secret, nil
	}
	m.mu.RUnlock()

	data, err := m.readSecret(ctx, m.cfg.Path)
	if err != nil {
		return "", fmt.Errorf("read signing secret: %w", err)
	}
	secret, ok := data["value"]
	if !ok {
		return "", fmt.Errorf("no value field at vault path %s", m.cfg.Path)
	}

	m.mu.Lock()
	m.cached = secret
	m.expiresAt = time.Now().Add(m.cfg.RenewTTL)
	m.mu.Unlock()

	return secret, nil
}

// Invalidate clears the cached secret, forcing the next Get to refetch
// — used after an out-of-band rotation.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = ""
}

func (m *Manager) readSecret(ctx context.Context, path string) (map[string]string, error) {
	url := fmt.Sprintf("%s/v1/%s/data/%s", m.cfg.Address, m.cfg.MountPath, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Vault-Token", m.cfg.Token)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("secret not found: %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vault error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	return decoded.Data.Data, nil
}
