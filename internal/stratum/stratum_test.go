package stratum

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainweb-mining-client/internal/work"
)

func startTestServer(t *testing.T, cfg DifficultyConfig) (*Server, string) {
	t.Helper()
	srv := NewServer("127.0.0.1:0", cfg, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv, srv.listener.Addr().String()
}

type wireClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *wireClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	return &wireClient{conn: conn, r: bufio.NewReader(conn)}
}

func (c *wireClient) send(id int, method string, params ...interface{}) {
	req := map[string]interface{}{"id": id, "method": method, "params": params}
	b, _ := json.Marshal(req)
	c.conn.Write(append(b, '\n'))
}

func (c *wireClient) readLine(t *testing.T) map[string]interface{} {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadBytes('\n')
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(line, &msg))
	return msg
}

func TestSessionHandshakeAndSubmit(t *testing.T) {
	cfg := DifficultyConfig{Mode: DifficultyModeBlock}
	srv, addr := startTestServer(t, cfg)

	var solved work.MiningResult
	solvedCh := make(chan struct{})
	srv.setOnBlockSolved(func(res work.MiningResult) {
		solved = res
		close(solvedCh)
	})

	var w work.Work
	srv.DispatchWork(w, work.AllOnes, work.ChainID(0))

	c := dial(t, addr)
	defer c.conn.Close()

	c.send(1, "mining.subscribe", "test-miner/1.0")
	subResp := c.readLine(t)
	require.Nil(t, subResp["error"])

	result := subResp["result"].([]interface{})
	nonce1Hex := result[1].(string)

	c.send(2, "mining.authorize", "worker.1", "x")
	authResp := c.readLine(t)
	require.Equal(t, true, authResp["result"])

	// mining.notify sent on authorize.
	notify := c.readLine(t)
	require.Equal(t, "mining.notify", notify["method"])
	params := notify["params"].([]interface{})
	jobID := params[0].(string)

	nonce1Bytes, err := hex.DecodeString(nonce1Hex)
	require.NoError(t, err)
	require.Len(t, nonce1Bytes, Nonce1Size)

	// Nonce2 = 0 always meets AllOnes target.
	nonce2Hex := hex.EncodeToString(make([]byte, Nonce2Size))
	c.send(3, "mining.submit", "worker.1", jobID, nonce2Hex)
	submitResp := c.readLine(t)
	require.Equal(t, true, submitResp["result"])

	select {
	case <-solvedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnBlockSolved")
	}
	require.True(t, work.AllOnes.Meets(solved.Digest))
}

func TestSessionRejectsDuplicateShare(t *testing.T) {
	cfg := DifficultyConfig{Mode: DifficultyModeBlock}
	srv, addr := startTestServer(t, cfg)

	var w work.Work
	srv.DispatchWork(w, work.AllOnes, work.ChainID(0))

	c := dial(t, addr)
	defer c.conn.Close()

	c.send(1, "mining.subscribe")
	c.readLine(t)
	c.send(2, "mining.authorize", "worker.1", "x")
	c.readLine(t)
	notify := c.readLine(t)
	jobID := notify["params"].([]interface{})[0].(string)

	nonce2Hex := hex.EncodeToString(make([]byte, Nonce2Size))

	c.send(3, "mining.submit", "worker.1", jobID, nonce2Hex)
	first := c.readLine(t)
	require.Equal(t, true, first["result"])

	c.send(4, "mining.submit", "worker.1", jobID, nonce2Hex)
	second := c.readLine(t)
	require.Equal(t, false, second["result"])
	errObj := second["error"].(map[string]interface{})
	require.Equal(t, float64(ErrDuplicate), errObj["code"])
}

func TestSessionRejectsSubmitBeforeAuthorize(t *testing.T) {
	cfg := DifficultyConfig{Mode: DifficultyModeBlock}
	srv, addr := startTestServer(t, cfg)

	var w work.Work
	srv.DispatchWork(w, work.AllOnes, work.ChainID(0))

	c := dial(t, addr)
	defer c.conn.Close()

	c.send(1, "mining.submit", "worker.1", "1", hex.EncodeToString(make([]byte, Nonce2Size)))
	resp := c.readLine(t)
	require.Equal(t, false, resp["result"])
	errObj := resp["error"].(map[string]interface{})
	require.Equal(t, float64(ErrNotSubscribed), errObj["code"])
}

func TestNonce1PoolAllocateAndRelease(t *testing.T) {
	p := NewNonce1Pool()
	n1, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, 1, p.InUse())

	n2, err := p.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, n1, n2)

	p.Release(n1)
	require.Equal(t, 1, p.InUse())
}

func TestLevelTargetScalesDownDifficulty(t *testing.T) {
	chainTarget, err := work.FromInt(big.NewInt(1 << 40))
	require.NoError(t, err)

	easier := LevelTarget(chainTarget, 1000)
	require.Equal(t, 1, easier.Compare(chainTarget))
}
