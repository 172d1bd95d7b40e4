package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidstack/marketsync/internal/domain"
)

func TestSyncError_Messages(t *testing.T) {
	cases := []struct {
		name string
		err  *SyncError
		want string
	}{
		{
			name: "bare",
			err:  &SyncError{Code: ErrCodeConnectivity, Message: "network unreachable"},
			want: "CONNECTIVITY: network unreachable",
		},
		{
			name: "kind only",
			err:  &SyncError{Code: ErrCodePerRecord, Message: "download failed", Kind: domain.KindJob},
			want: "PER_RECORD: download failed (kind=job)",
		},
		{
			name: "record",
			err: &SyncError{Code: ErrCodePerRecord, Message: "upload failed",
				Kind: domain.KindBid, RecordID: "bid-7"},
			want: "PER_RECORD: upload failed (kind=bid, record=bid-7)",
		},
		{
			name: "action",
			err: &SyncError{Code: ErrCodeQueueReplay, Message: "replay failed",
				ActionID: "act-1"},
			want: "QUEUE_REPLAY: replay failed (action=act-1)",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestSyncError_Aborting(t *testing.T) {
	aborting := []ErrorCode{ErrCodeConnectivity, ErrCodeNoSession, ErrCodeStorage}
	for _, code := range aborting {
		assert.True(t, (&SyncError{Code: code}).Aborting(), string(code))
	}
	recorded := []ErrorCode{ErrCodePerRecord, ErrCodeQueueReplay}
	for _, code := range recorded {
		assert.False(t, (&SyncError{Code: code}).Aborting(), string(code))
	}
}

func TestErrorPredicates_UnwrapChain(t *testing.T) {
	inner := &SyncError{Code: ErrCodeStorage, Message: "local store unavailable"}
	wrapped := fmt.Errorf("cycle 3: %w", inner)

	assert.True(t, IsStorageError(wrapped))
	assert.False(t, IsConnectivityError(wrapped))
	assert.False(t, IsStorageError(assert.AnError))
	assert.False(t, IsStorageError(nil))
}

func TestSyncError_UnwrapExposesCause(t *testing.T) {
	cause := assert.AnError
	err := &SyncError{Code: ErrCodeQueueReplay, Message: "replay failed", Err: cause}
	require.ErrorIs(t, err, cause)
}

func TestCycleClock_Sequence(t *testing.T) {
	c := NewCycleClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}
