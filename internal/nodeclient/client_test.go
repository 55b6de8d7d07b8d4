package nodeclient

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainweb-mining-client/internal/work"
)

func encodeWorkResponse(chain work.ChainID, target work.Target, w work.Work) []byte {
	buf := make([]byte, 4+32+work.Size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(chain))
	copy(buf[4:36], target.Bytes())
	copy(buf[36:], w.Bytes())
	return buf
}

func TestGetWorkParsesResponse(t *testing.T) {
	var wantWork work.Work
	wantWork = wantWork.SetNonce(7)
	wantTarget := work.AllOnes

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chainweb/0.0/mainnet01/mining/work", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var got workRequest
		require.NoError(t, json.Unmarshal(body, &got))
		require.Equal(t, "k:abc", got.Account)
		require.Equal(t, "keys-all", got.Predicate)
		require.Equal(t, []string{"abc"}, got.PublicKeys)
		rw.Write(encodeWorkResponse(work.ChainID(3), wantTarget, wantWork))
	}))
	defer srv.Close()

	c := New(srv.URL, work.ChainID(3))
	resp, err := c.GetWork(context.Background(), "k:abc", "keys-all", []string{"abc"})
	require.NoError(t, err)
	require.Equal(t, work.ChainID(3), resp.ChainID)
	require.Equal(t, wantTarget, resp.Target)
	require.Equal(t, wantWork, resp.Work)
}

func TestGetWorkRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	var w work.Work

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.Write(encodeWorkResponse(0, work.Zero, w))
	}))
	defer srv.Close()

	c := New(srv.URL, 0, WithMaxRetries(5))
	_, err := c.GetWork(context.Background(), "", "keys-all", nil)
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestGetWorkDoesNotRetryTerminalError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		rw.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, 0, WithMaxRetries(5))
	_, err := c.GetWork(context.Background(), "", "keys-all", nil)
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestSubmitWorkSendsRawBytes(t *testing.T) {
	var w work.Work
	w = w.SetNonce(99)

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chainweb/0.0/mainnet01/mining/solved", r.URL.Path)
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	err := c.SubmitWork(context.Background(), w)
	require.NoError(t, err)
}

func TestGetInfoDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/info", r.URL.Path)
		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`{"nodeVersion":"2.25","nodeApiVersion":"0.0","chainwebVersion":"mainnet01"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	info, err := c.GetInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2.25", info.NodeVersion)
	require.Equal(t, "mainnet01", info.ChainwebVersion)
}

func TestUpdatesStreamsEventsAndReconnects(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		rw.Header().Set("Content-Type", "text/event-stream")
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("data: New\n\n"))
		if f, ok := rw.(http.Flusher); ok {
			f.Flush()
		}
		// First connection closes immediately to exercise the reconnect path.
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events := c.Updates(ctx)

	received := 0
	for range events {
		received++
		if received >= 2 {
			cancel()
		}
	}
	require.GreaterOrEqual(t, received, 2)
	require.GreaterOrEqual(t, int(hits.Load()), 2)
}
