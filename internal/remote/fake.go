package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/bidstack/marketsync/internal/domain"
)

// FakeSession is an in-memory SessionProvider.
type FakeSession struct {
	mu      sync.Mutex
	session Session
	active  bool
}

// NewFakeSession creates a provider authenticated as the given account.
func NewFakeSession(accountID string) *FakeSession {
	return &FakeSession{
		session: Session{AccountID: accountID, Token: "fake-token"},
		active:  true,
	}
}

// Current implements SessionProvider.
func (f *FakeSession) Current(context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return Session{}, ErrNoSession
	}
	return f.session, nil
}

// SignOut drops the session; Current returns ErrNoSession afterwards.
func (f *FakeSession) SignOut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
}

// FakeConnectivity is a switchable Connectivity with a transition channel.
type FakeConnectivity struct {
	mu     sync.Mutex
	online bool
	ch     chan bool
}

// NewFakeConnectivity creates a connectivity source in the given state.
func NewFakeConnectivity(online bool) *FakeConnectivity {
	return &FakeConnectivity{online: online, ch: make(chan bool, 8)}
}

// Online implements Connectivity.
func (f *FakeConnectivity) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

// Watch implements Connectivity.
func (f *FakeConnectivity) Watch() <-chan bool {
	return f.ch
}

// SetOnline flips reachability, emitting a transition when the state
// actually changes.
func (f *FakeConnectivity) SetOnline(online bool) {
	f.mu.Lock()
	changed := f.online != online
	f.online = online
	f.mu.Unlock()

	if changed {
		select {
		case f.ch <- online:
		default:
		}
	}
}

// FakeCache counts invalidations.
type FakeCache struct {
	mu    sync.Mutex
	count int
}

// NewFakeCache creates a cache sink.
func NewFakeCache() *FakeCache {
	return &FakeCache{}
}

// InvalidateAll implements CacheInvalidator.
func (f *FakeCache) InvalidateAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
}

// Invalidations returns how many times InvalidateAll has been called.
func (f *FakeCache) Invalidations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// FakeClient is an in-memory remote authority for one entity kind, with
// per-record failure injection.
type FakeClient struct {
	mu sync.Mutex

	records map[string]domain.Entity

	// fetchErr fails every Fetch call while set.
	fetchErr error
	// pushErr fails Push/Delete for specific record ids.
	pushErr map[string]error

	fetchCalls  int
	pushCalls   int
	deleteCalls int
}

// NewFakeClient creates an empty remote authority seeded with the given
// records.
func NewFakeClient(seed ...domain.Entity) *FakeClient {
	c := &FakeClient{
		records: make(map[string]domain.Entity),
		pushErr: make(map[string]error),
	}
	for _, e := range seed {
		c.records[e.EntityID()] = e
	}
	return c
}

// Fetch implements Client.
func (c *FakeClient) Fetch(ctx context.Context, _ Session) ([]domain.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchCalls++

	if c.fetchErr != nil {
		return nil, c.fetchErr
	}

	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.records[id])
	}
	return out, nil
}

// Push implements Client.
func (c *FakeClient) Push(ctx context.Context, _ Session, e domain.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushCalls++

	if err := c.pushErr[e.EntityID()]; err != nil {
		return err
	}
	c.records[e.EntityID()] = e
	return nil
}

// Delete implements Client.
func (c *FakeClient) Delete(ctx context.Context, _ Session, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteCalls++

	if err := c.pushErr[id]; err != nil {
		return err
	}
	delete(c.records, id)
	return nil
}

// Seed stores records directly, without counting as Push calls.
func (c *FakeClient) Seed(entities ...domain.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entities {
		c.records[e.EntityID()] = e
	}
}

// FailFetch makes every Fetch return err until cleared with nil.
func (c *FakeClient) FailFetch(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErr = err
}

// FailPush makes Push/Delete for the given id return err until cleared
// with nil.
func (c *FakeClient) FailPush(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.pushErr, id)
		return
	}
	c.pushErr[id] = err
}

// Record returns the stored remote record for id, if any.
func (c *FakeClient) Record(id string) (domain.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.records[id]
	return e, ok
}

// IDs returns the sorted ids of all remote records.
func (c *FakeClient) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of remote records.
func (c *FakeClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Calls reports (fetch, push, delete) call counts.
func (c *FakeClient) Calls() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchCalls, c.pushCalls, c.deleteCalls
}

// NewFakeCollaborators wires a complete fake collaborator set: one client
// per kind, an authenticated session, online connectivity, and a counting
// cache sink.
func NewFakeCollaborators() (*Collaborators, map[domain.Kind]*FakeClient, *FakeConnectivity, *FakeCache) {
	clients := map[domain.Kind]*FakeClient{
		domain.KindAccount: NewFakeClient(),
		domain.KindJob:     NewFakeClient(),
		domain.KindMessage: NewFakeClient(),
		domain.KindBid:     NewFakeClient(),
	}
	network := NewFakeConnectivity(true)
	cache := NewFakeCache()

	collab := &Collaborators{
		Session:  NewFakeSession("acct-local"),
		Network:  network,
		Cache:    cache,
		Accounts: clients[domain.KindAccount],
		Jobs:     clients[domain.KindJob],
		Messages: clients[domain.KindMessage],
		Bids:     clients[domain.KindBid],
	}
	return collab, clients, network, cache
}
