package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidstack/marketsync/internal/domain"
	"github.com/bidstack/marketsync/internal/testutil"
)

func testServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_Fetch(t *testing.T) {
	var gotAuth, gotPath string
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "job-1", "account_id": "acct-1", "title": "paint",
				"status": "open", "budget_cents": 5000,
				"created_at": testutil.Epoch, "updated_at": testutil.Epoch},
		})
	})

	client, err := NewHTTPClient(srv.URL, domain.KindJob, srv.Client())
	require.NoError(t, err)

	got, err := client.Fetch(context.Background(), Session{AccountID: "acct-1", Token: "tok"})
	require.NoError(t, err)

	assert.Equal(t, "/v1/jobs", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	require.Len(t, got, 1)
	assert.Equal(t, "job-1", got[0].EntityID())
	assert.Equal(t, "paint", got[0].(*domain.Job).Title)
}

func TestHTTPClient_FetchRejectsBadStatus(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})

	client, err := NewHTTPClient(srv.URL, domain.KindJob, srv.Client())
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), Session{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestHTTPClient_PushPutsRecord(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	})

	client, err := NewHTTPClient(srv.URL, domain.KindBid, srv.Client())
	require.NoError(t, err)

	bid := &domain.Bid{
		ID: "bid-1", JobID: "job-1", AccountID: "acct-1",
		AmountCents: 4200, Status: "pending",
		CreatedAt: testutil.Epoch, UpdatedAt: testutil.Epoch,
	}
	require.NoError(t, client.Push(context.Background(), Session{}, bid))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/v1/bids/bid-1", gotPath)
	assert.Equal(t, "bid-1", gotBody["id"])
}

func TestHTTPClient_DeleteTreatsMissingAsDone(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	client, err := NewHTTPClient(srv.URL, domain.KindJob, srv.Client())
	require.NoError(t, err)
	assert.NoError(t, client.Delete(context.Background(), Session{}, "job-gone"))
}

func TestHTTPClient_HonorsContextDeadline(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	client, err := NewHTTPClient(srv.URL, domain.KindJob, srv.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Fetch(ctx, Session{})
	require.Error(t, err)
}

func TestStaticSession(t *testing.T) {
	s, err := NewStaticSession("acct-1", "tok").Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acct-1", s.AccountID)

	_, err = NewStaticSession("", "").Current(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestHTTPConnectivity_Probe(t *testing.T) {
	healthy := true
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/healthz", r.URL.Path)
		if !healthy {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	conn := NewHTTPConnectivity(srv.URL, srv.Client(), time.Hour)
	defer conn.Close()

	assert.True(t, conn.Online())
	healthy = false
	assert.False(t, conn.Online())
}

func TestNewHTTPCollaborators_Validates(t *testing.T) {
	collab, err := NewHTTPCollaborators("http://localhost:8080", "acct-1", "tok", nil)
	require.NoError(t, err)
	require.NoError(t, collab.Validate())

	_, err = NewHTTPCollaborators("", "acct-1", "tok", nil)
	require.Error(t, err)
}
