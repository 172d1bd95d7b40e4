package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bidstack/marketsync/internal/domain"
)

// HTTPClient talks to one entity collection of the marketplace REST API.
//
// Endpoints follow the usual shape:
//
//	GET    {base}/v1/{collection}          list records for the session account
//	PUT    {base}/v1/{collection}/{id}     create or replace one record
//	DELETE {base}/v1/{collection}/{id}     delete one record
type HTTPClient struct {
	base string
	kind domain.Kind
	http *http.Client
}

// NewHTTPClient creates a client for one entity kind. A nil httpClient
// uses http.DefaultClient; per-call deadlines come from the caller's
// context.
func NewHTTPClient(baseURL string, kind domain.Kind, httpClient *http.Client) (*HTTPClient, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("remote: invalid base url %q", baseURL)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("remote: unknown entity kind %q", kind)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{base: baseURL, kind: kind, http: httpClient}, nil
}

func (c *HTTPClient) collectionURL() string {
	return fmt.Sprintf("%s/v1/%s", c.base, c.kind.Table())
}

func (c *HTTPClient) recordURL(id string) string {
	return fmt.Sprintf("%s/v1/%s/%s", c.base, c.kind.Table(), url.PathEscape(id))
}

// Fetch implements Client.
func (c *HTTPClient) Fetch(ctx context.Context, session Session) ([]domain.Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.collectionURL(), nil)
	if err != nil {
		return nil, err
	}
	authorize(req, session)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: fetch %s: %w", c.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(c.kind, "fetch", resp)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("remote: fetch %s: decode: %w", c.kind, err)
	}

	out := make([]domain.Entity, 0, len(raw))
	for _, payload := range raw {
		e, err := domain.DecodeEntity(c.kind, payload)
		if err != nil {
			return nil, fmt.Errorf("remote: fetch %s: %w", c.kind, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Push implements Client.
func (c *HTTPClient) Push(ctx context.Context, session Session, e domain.Entity) error {
	payload, err := domain.EncodeEntity(e)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.recordURL(e.EntityID()), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	authorize(req, session)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: push %s/%s: %w", c.kind, e.EntityID(), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	}
	return statusError(c.kind, "push", resp)
}

// Delete implements Client.
func (c *HTTPClient) Delete(ctx context.Context, session Session, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.recordURL(id), nil)
	if err != nil {
		return err
	}
	authorize(req, session)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: delete %s/%s: %w", c.kind, id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		// A missing remote record means the delete already took effect.
		return nil
	}
	return statusError(c.kind, "delete", resp)
}

func authorize(req *http.Request, session Session) {
	if session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+session.Token)
	}
}

func statusError(kind domain.Kind, op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("remote: %s %s: unexpected status %d: %s", op, kind, resp.StatusCode, bytes.TrimSpace(body))
}

// StaticSession is a SessionProvider backed by fixed credentials, as
// loaded from configuration.
type StaticSession struct {
	session Session
}

// NewStaticSession creates a provider for the given account and token.
func NewStaticSession(accountID, token string) *StaticSession {
	return &StaticSession{session: Session{AccountID: accountID, Token: token}}
}

// Current implements SessionProvider.
func (s *StaticSession) Current(context.Context) (Session, error) {
	if s.session.AccountID == "" {
		return Session{}, ErrNoSession
	}
	return s.session, nil
}

// HTTPConnectivity probes a health endpoint to decide whether the remote
// is reachable, and emits transitions on a poll interval.
type HTTPConnectivity struct {
	probeURL string
	http     *http.Client
	interval time.Duration

	mu     sync.Mutex
	ch     chan bool
	last   bool
	probed bool
	stop   chan struct{}
	once   sync.Once
}

// NewHTTPConnectivity creates a prober for baseURL's health endpoint.
func NewHTTPConnectivity(baseURL string, httpClient *http.Client, interval time.Duration) *HTTPConnectivity {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HTTPConnectivity{
		probeURL: baseURL + "/v1/healthz",
		http:     httpClient,
		interval: interval,
		ch:       make(chan bool, 8),
		stop:     make(chan struct{}),
	}
}

// Online implements Connectivity with a synchronous probe.
func (c *HTTPConnectivity) Online() bool {
	online := c.probe()

	c.mu.Lock()
	c.last = online
	c.probed = true
	c.mu.Unlock()
	return online
}

// Watch implements Connectivity. The first call starts the poll loop.
func (c *HTTPConnectivity) Watch() <-chan bool {
	c.once.Do(func() { go c.poll() })
	return c.ch
}

// Close stops the poll loop.
func (c *HTTPConnectivity) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *HTTPConnectivity) poll() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			online := c.probe()

			c.mu.Lock()
			changed := !c.probed || online != c.last
			c.last = online
			c.probed = true
			c.mu.Unlock()

			if changed {
				select {
				case c.ch <- online:
				default:
				}
			}
		}
	}
}

func (c *HTTPConnectivity) probe() bool {
	req, err := http.NewRequest(http.MethodGet, c.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// NoopCache is a CacheInvalidator for deployments with no read cache
// layered over the mirror.
type NoopCache struct{}

// InvalidateAll implements CacheInvalidator.
func (NoopCache) InvalidateAll() {}

// NewHTTPCollaborators wires a full collaborator set against a remote
// base URL.
func NewHTTPCollaborators(baseURL, accountID, token string, httpClient *http.Client) (*Collaborators, error) {
	clients := make(map[domain.Kind]Client, len(domain.DownloadOrder()))
	for _, kind := range domain.DownloadOrder() {
		c, err := NewHTTPClient(baseURL, kind, httpClient)
		if err != nil {
			return nil, err
		}
		clients[kind] = c
	}

	return &Collaborators{
		Session:  NewStaticSession(accountID, token),
		Network:  NewHTTPConnectivity(baseURL, httpClient, 0),
		Cache:    NoopCache{},
		Accounts: clients[domain.KindAccount],
		Jobs:     clients[domain.KindJob],
		Messages: clients[domain.KindMessage],
		Bids:     clients[domain.KindBid],
	}, nil
}
