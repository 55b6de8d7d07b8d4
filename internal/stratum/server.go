package stratum

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"chainweb-mining-client/internal/work"
	"chainweb-mining-client/internal/worker"
)

// jobRefreshBurst caps how many consecutive job broadcasts DispatchWork
// lets through before throttling kicks in, absorbing a burst of rapid
// chain-tip changes without flooding every session with mining.notify.
const jobRefreshBurst = 4

// MinerInfo summarizes a connected, authorized session for callbacks and
// status reporting.
type MinerInfo struct {
	SessionID      string
	WorkerName     string
	UserAgent      string
	CurrentLevel   float64
	SharesAccepted uint64
	SharesRejected uint64
	BestDigest     string
}

// Server is a Stratum V1 TCP server exposing Chainweb mining work to
// connected sessions.
type Server struct {
	Addr string

	DifficultyConfig DifficultyConfig

	onBlockSolvedMu sync.RWMutex
	// onBlockSolved is invoked whenever a share also meets the real
	// chain target — a complete block solution, to be submitted to the
	// node. Accessed through setOnBlockSolved/fireOnBlockSolved since
	// ServerWorker.Mine swaps it in and out across goroutines.
	onBlockSolved func(work.MiningResult)

	OnMinerConnected    func(MinerInfo)
	OnMinerDisconnected func(MinerInfo)
	OnShareAccepted     func(MinerInfo)
	OnShareRejected     func(sessionID string, reason string)

	log logrus.FieldLogger

	nonce1Pool *Nonce1Pool

	// jobRefreshLimiter bounds how often DispatchWork broadcasts a new
	// job to connected sessions, coalescing bursts of rapid-fire work
	// updates (e.g. a flaky upstream update stream) into one notify.
	jobRefreshLimiter *rate.Limiter

	listener net.Listener
	running  atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	sessionMu sync.RWMutex
	sessions  map[string]*Session

	templateMu sync.RWMutex
	template   *workTemplate
}

// workTemplate is the chain's current work, shared across every session.
// Each session splices its own Nonce1 prefix into a copy of Work before
// handing it to the miner, so the template itself never leaves the
// server carrying any one session's nonce.
type workTemplate struct {
	Work    work.Work
	Target  work.Target
	ChainID work.ChainID
}

// NewServer returns a Server listening on addr once Start is called.
func NewServer(addr string, diffCfg DifficultyConfig, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		Addr:              addr,
		DifficultyConfig:  diffCfg,
		log:               log,
		nonce1Pool:        NewNonce1Pool(),
		jobRefreshLimiter: rate.NewLimiter(rate.Limit(20), jobRefreshBurst),
		stopCh:            make(chan struct{}),
		sessions:          make(map[string]*Session),
	}
}

// Start begins accepting miner connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("stratum: listen on %s: %w", s.Addr, err)
	}
	s.listener = ln
	s.running.Store(true)
	s.log.Infof("stratum server listening on %s", s.Addr)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop gracefully shuts the server down: authorized sessions are told to
// reconnect (client.reconnect) before their sockets are closed, so
// well-behaved miners don't sit in a long exponential backoff.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}

	s.sessionMu.RLock()
	for _, sess := range s.sessions {
		if st := SessionState(sess.state.Load()); st == StateAuthorized || st == StateActive {
			sess.sendReconnect(3)
		}
	}
	s.sessionMu.RUnlock()

	time.Sleep(200 * time.Millisecond)

	s.sessionMu.Lock()
	for _, sess := range s.sessions {
		sess.conn.Close()
	}
	s.sessionMu.Unlock()

	s.wg.Wait()
	s.log.Info("stratum server stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.log.WithError(err).Error("stratum: accept error")
			}
			return
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(45 * time.Second)
			tc.SetNoDelay(true)
		}

		nonce1, err := s.nonce1Pool.Allocate()
		if err != nil {
			s.log.WithError(err).Warn("stratum: rejecting connection, nonce1 pool exhausted")
			conn.Close()
			continue
		}

		sess := newSession(uuid.NewString(), conn, s, nonce1)

		s.sessionMu.Lock()
		s.sessions[sess.id] = sess
		s.sessionMu.Unlock()

		s.log.WithFields(logrus.Fields{"session": sess.id, "nonce1": fmt.Sprintf("%04x", nonce1), "remote": conn.RemoteAddr()}).Info("stratum: new connection")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.handle()
		}()
	}
}

func (s *Server) removeSession(sess *Session) {
	s.sessionMu.Lock()
	delete(s.sessions, sess.id)
	s.sessionMu.Unlock()

	s.nonce1Pool.Release(sess.nonce1)

	s.log.WithFields(logrus.Fields{"session": sess.id, "worker": sess.workerName}).Info("stratum: session disconnected")
	if s.OnMinerDisconnected != nil && sess.state.Load() == int32(StateActive) {
		s.OnMinerDisconnected(sess.toMinerInfo())
	}
}

// DispatchWork installs w/target as the current template, then pushes a
// freshly spliced per-session Job to every session that has reached
// Authorized or Active, unless the job-refresh limiter says this
// broadcast should be coalesced into the next one. Each session gets its
// own Job built from the same template but carrying that session's own
// Nonce1 prefix (see Session.pushJob) — no two sessions are ever handed
// an identical job.
func (s *Server) DispatchWork(w work.Work, target work.Target, chain work.ChainID) {
	tmpl := &workTemplate{Work: w, Target: target, ChainID: chain}

	s.templateMu.Lock()
	s.template = tmpl
	s.templateMu.Unlock()

	if !s.jobRefreshLimiter.Allow() {
		s.log.Debug("stratum: job broadcast throttled")
		return
	}

	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	pushed := 0
	for _, sess := range s.sessions {
		switch SessionState(sess.state.Load()) {
		case StateActive:
			sess.pushJob(tmpl, true)
			pushed++
		case StateAuthorized:
			sess.activate(tmpl)
			pushed++
		}
	}
	s.log.WithFields(logrus.Fields{"chain": chain, "sessions": pushed}).Info("stratum: broadcast job")
}

// setOnBlockSolved installs hook as the current block-solved callback and
// returns whatever was installed before it, so a caller can restore it
// once done.
func (s *Server) setOnBlockSolved(hook func(work.MiningResult)) func(work.MiningResult) {
	s.onBlockSolvedMu.Lock()
	defer s.onBlockSolvedMu.Unlock()
	prev := s.onBlockSolved
	s.onBlockSolved = hook
	return prev
}

// fireOnBlockSolved invokes the currently installed hook, if any.
func (s *Server) fireOnBlockSolved(res work.MiningResult) {
	s.onBlockSolvedMu.RLock()
	hook := s.onBlockSolved
	s.onBlockSolvedMu.RUnlock()
	if hook != nil {
		hook(res)
	}
}

func (s *Server) activeTemplate() *workTemplate {
	s.templateMu.RLock()
	defer s.templateMu.RUnlock()
	return s.template
}

// Sessions returns info about all authorized sessions.
func (s *Server) Sessions() []MinerInfo {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()

	out := make([]MinerInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if st := SessionState(sess.state.Load()); st == StateAuthorized || st == StateActive {
			out = append(out, sess.toMinerInfo())
		}
	}
	return out
}

// AsWorker adapts the Stratum server to the coordinator's Worker
// interface: Mine publishes w/target to every session and blocks until a
// session submits a share that meets the real chain target, or ctx is
// cancelled.
func (s *Server) AsWorker() *ServerWorker {
	return &ServerWorker{server: s}
}

// ServerWorker is the Worker-shaped view of a Server.
type ServerWorker struct {
	server *Server
}

// Name implements worker.Worker.
func (sw *ServerWorker) Name() string { return "stratum" }

// Mine implements worker.Worker.
func (sw *ServerWorker) Mine(ctx context.Context, w work.Work, target work.Target) (work.MiningResult, error) {
	resultCh := make(chan work.MiningResult, 1)

	var prevHook func(work.MiningResult)
	prevHook = sw.server.setOnBlockSolved(func(res work.MiningResult) {
		select {
		case resultCh <- res:
		default:
		}
		if prevHook != nil {
			prevHook(res)
		}
	})
	defer func() { sw.server.setOnBlockSolved(prevHook) }()

	sw.server.DispatchWork(w, target, 0)

	select {
	case res := <-resultCh:
		return res, nil
	case <-ctx.Done():
		return work.MiningResult{}, worker.ErrCancelled
	}
}
