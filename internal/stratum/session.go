package stratum

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"chainweb-mining-client/internal/work"
)

// SessionState is a position in the session lifecycle: New -> Subscribed
// -> Authorized -> Active, with Closed/Faulted as terminal states
// reachable from any of the above. Authorized is entered as soon as
// mining.authorize succeeds; a session only reaches Active once it has
// actually been handed a job (on authorize, if work is already flowing,
// or on the next DispatchWork otherwise).
type SessionState int32

const (
	StateNew SessionState = iota
	StateSubscribed
	StateAuthorized
	StateActive
	StateClosed
	StateFaulted
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSubscribed:
		return "subscribed"
	case StateAuthorized:
		return "authorized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// idleDisconnect is the absolute inactivity threshold after which a
// session is dropped regardless of vardiff mode.
const idleDisconnect = 5 * time.Minute

// Session is a single miner's Stratum connection. Its job store and
// share validator are its own: a job pushed to one session is never
// visible to, or submittable by, another.
type Session struct {
	id     string
	conn   net.Conn
	server *Server
	nonce1 uint16

	state atomic.Int32

	reader  *bufio.Reader
	writeMu sync.Mutex

	workerName string
	userAgent  string

	jobStore       *JobStore
	shareValidator *ShareValidator
	lastJob        atomic.Pointer[Job]

	currentLevel  float64
	currentTarget work.Target
	period        *periodState

	lastActivity time.Time

	sharesAccepted uint64
	sharesRejected uint64
	bestDigest     [32]byte
}

func newSession(id string, conn net.Conn, server *Server, nonce1 uint16) *Session {
	store := NewJobStore(10)
	s := &Session{
		id:             id,
		conn:           conn,
		server:         server,
		nonce1:         nonce1,
		reader:         bufio.NewReaderSize(conn, 4096),
		jobStore:       store,
		shareValidator: NewShareValidator(store),
		lastActivity:   time.Now(),
	}
	s.state.Store(int32(StateNew))

	switch server.DifficultyConfig.Mode {
	case DifficultyModeFixed:
		s.currentLevel = server.DifficultyConfig.FixedLevel
	case DifficultyModePeriod:
		s.period = newPeriodState()
	default:
		s.currentLevel = 1
	}
	return s
}

func (s *Session) log() logrus.FieldLogger {
	return s.server.log.WithField("session", s.id)
}

// target returns the share-acceptance target this session's submissions
// against job must meet. Block mode hands out the real chain target
// directly; Fixed mode scales it by a level set once when the session is
// created; Period mode tracks its own target directly (see difficulty.go's
// retarget), falling back to the job's target until an estimate exists
// or if the session's target has become harder than the job's own target.
func (s *Session) target(job *Job) work.Target {
	if job == nil {
		return work.Zero
	}
	switch s.server.DifficultyConfig.Mode {
	case DifficultyModeBlock:
		return job.Target
	case DifficultyModePeriod:
		if s.currentTarget == work.Zero || s.currentTarget.Compare(job.Target) < 0 {
			return job.Target
		}
		return s.currentTarget
	default:
		return LevelTarget(job.Target, s.currentLevel)
	}
}

// handle is the session's read/process loop. One goroutine per session;
// all writes go through writeMu so a session's socket always has a
// single writer at a time.
func (s *Session) handle() {
	defer func() {
		if r := recover(); r != nil {
			s.log().Errorf("stratum: session panic: %v", r)
			s.state.Store(int32(StateFaulted))
		}
		s.conn.Close()
		s.server.removeSession(s)
	}()

	for {
		deadline := s.idleDeadline()
		s.conn.SetReadDeadline(time.Now().Add(deadline))

		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if time.Since(s.lastActivity) > idleDisconnect {
					return
				}
				s.idleRetarget()
				continue
			}
			return
		}

		s.lastActivity = time.Now()

		for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			continue
		}

		req, err := ParseRequest(line)
		if err != nil {
			s.log().Debugf("stratum: bad request: %v\n%s", err, spew.Sdump(line))
			continue
		}
		s.handleRequest(req)

		if s.state.Load() == int32(StateFaulted) {
			return
		}
	}
}

// idleDeadline is the retarget interval in Period mode (so idle sessions
// get periodic vardiff checks), or a flat 2 minutes otherwise.
func (s *Session) idleDeadline() time.Duration {
	if s.server.DifficultyConfig.Mode == DifficultyModePeriod {
		return s.server.DifficultyConfig.retargetInterval()
	}
	return 2 * time.Minute
}

// idleRetarget eases an idle session's Period-mode target rather than
// leaving it pinned at a hashrate the session hasn't demonstrated
// lately; there is no fresh share data to feed the estimator, so this
// does not touch s.period at all.
func (s *Session) idleRetarget() {
	if s.period == nil || s.state.Load() != int32(StateActive) {
		return
	}
	job := s.lastJob.Load()
	if job == nil {
		return
	}
	eased := easeTarget(s.currentTarget)
	if eased.Compare(job.Target) < 0 {
		eased = job.Target
	}
	if eased == s.currentTarget {
		return
	}
	s.currentTarget = eased
	s.sendSetDifficulty(levelFromTargets(job.Target, eased))
	s.log().Infof("stratum: idle vardiff, target -> %s", eased.Hex())
}

func (s *Session) handleRequest(req *Request) {
	switch req.Method {
	case "mining.subscribe":
		s.handleSubscribe(req)
	case "mining.authorize":
		s.handleAuthorize(req)
	case "mining.submit":
		s.handleSubmit(req)
	default:
		s.log().Debugf("stratum: unknown method %s", req.Method)
		s.sendResponse(req.ID, nil, NewError(ErrOther, "unknown method"))
	}
}

func (s *Session) handleSubscribe(req *Request) {
	s.state.Store(int32(StateSubscribed))

	if len(req.Params) > 0 {
		var ua string
		if json.Unmarshal(req.Params[0], &ua) == nil {
			s.userAgent = ua
		}
	}

	subscriptions := [][]string{
		{"mining.set_difficulty", s.id},
		{"mining.notify", s.id},
	}
	result := []interface{}{
		subscriptions,
		fmt.Sprintf("%04x", s.nonce1),
		Nonce2Size,
	}
	s.sendResponse(req.ID, result, nil)
	if s.server.DifficultyConfig.Mode != DifficultyModeBlock {
		s.sendSetDifficulty(s.currentLevel)
	}

	s.log().WithFields(logrus.Fields{"ua": s.userAgent}).Info("stratum: subscribed")
}

// handleAuthorize accepts any worker name, including empty — Chainweb
// Stratum has no per-worker accounting tied to authorization, so there
// is nothing to reject. A successful authorize moves the session to
// Authorized; it only reaches Active once a job has actually been
// pushed, either right now (if work is already flowing) or on the next
// DispatchWork.
func (s *Session) handleAuthorize(req *Request) {
	if s.state.Load() < int32(StateSubscribed) {
		s.sendResponse(req.ID, false, NewError(ErrNotSubscribed, "not subscribed"))
		return
	}

	workerName, _ := ParamString(req.Params, 0)
	s.workerName = workerName
	s.state.Store(int32(StateAuthorized))
	s.sendResponse(req.ID, true, nil)
	s.log().Infof("stratum: authorized as %q", workerName)

	if s.server.OnMinerConnected != nil {
		s.server.OnMinerConnected(s.toMinerInfo())
	}

	if tmpl := s.server.activeTemplate(); tmpl != nil {
		s.activate(tmpl)
	}
}

// activate transitions an Authorized session to Active and pushes it its
// first job, built from tmpl. Called either from handleAuthorize (work
// already flowing) or from DispatchWork (session authorized first, work
// arrives later).
func (s *Session) activate(tmpl *workTemplate) {
	s.state.Store(int32(StateActive))
	s.pushJob(tmpl, true)
}

// pushJob clones tmpl's Work with this session's Nonce1 spliced into the
// nonce field (Nonce2 left zero; the miner fills it in) and sends the
// resulting Job via mining.notify.
func (s *Session) pushJob(tmpl *workTemplate, cleanJobs bool) {
	w := tmpl.Work.SetNonce(assembleNonce(s.nonce1, zeroNonce2))
	job := s.jobStore.Create(w, tmpl.Target, tmpl.ChainID, s.shareValidator.ForgetJob)
	s.lastJob.Store(job)
	s.sendNotify(job, cleanJobs)
}

func (s *Session) handleSubmit(req *Request) {
	if s.state.Load() != int32(StateActive) {
		s.sendResponse(req.ID, false, NewError(ErrNotSubscribed, "not subscribed"))
		return
	}

	jobID, _ := ParamJobID(req.Params, 1)
	nonce2, _ := ParamString(req.Params, 2)
	sub := ShareSubmission{JobID: jobID, Nonce2: nonce2}

	job := s.jobStore.Get(jobID)
	if job == nil {
		s.sendResponse(req.ID, false, NewError(ErrStaleJob, "job not found or expired"))
		s.sharesRejected++
		if s.server.OnShareRejected != nil {
			s.server.OnShareRejected(s.id, "job not found or expired")
		}
		return
	}

	sessionTarget := s.target(job)
	result, stratumErr := s.shareValidator.Validate(s.nonce1, sessionTarget, sub)
	if stratumErr != nil {
		s.sendResponse(req.ID, false, stratumErr)
		if stratumErr.Code == ErrDuplicate {
			s.log().Debugf("stratum: duplicate share job=%s nonce2=%s", jobID, nonce2)
			return
		}
		s.sharesRejected++
		if s.server.OnShareRejected != nil {
			s.server.OnShareRejected(s.id, stratumErr.Message)
		}
		s.log().Infof("stratum: share rejected: %s", stratumErr.Message)
		return
	}

	s.sharesAccepted++
	s.bestDigest = result.Digest
	s.sendResponse(req.ID, true, nil)

	if s.period != nil {
		if s.currentTarget == work.Zero {
			s.currentTarget = sessionTarget
		}
		if retargetDue := s.period.recordShare(time.Now()); retargetDue {
			if newTarget, changed := s.server.DifficultyConfig.retarget(s.period, s.currentTarget, job.Target); changed {
				s.currentTarget = newTarget
				s.sendSetDifficulty(levelFromTargets(job.Target, newTarget))
				s.log().Infof("stratum: vardiff retarget, target -> %s", newTarget.Hex())
			}
		}
	}

	if s.server.OnShareAccepted != nil {
		s.server.OnShareAccepted(s.toMinerInfo())
	}

	if result.MeetsBlockTarget {
		s.server.fireOnBlockSolved(work.MiningResult{Work: result.Work, Digest: result.Digest})
	}
}

func (s *Session) sendResponse(id interface{}, result interface{}, stratumErr *Error) {
	s.write(Response{ID: id, Result: result, Error: stratumErr}.Encode())
}

func (s *Session) sendSetDifficulty(level float64) {
	s.write(Notification{Method: "mining.set_difficulty", Params: []interface{}{level}}.Encode())
}

func (s *Session) sendNotify(job *Job, cleanJobs bool) {
	params := []interface{}{
		job.ID,
		hex.EncodeToString(job.Work.Bytes()),
		job.Target.Hex(),
		cleanJobs,
	}
	s.write(Notification{Method: "mining.notify", Params: params}.Encode())
}

// sendReconnect asks the miner to reconnect after waitSeconds, used on
// graceful server shutdown so well-behaved clients skip their own
// backoff.
func (s *Session) sendReconnect(waitSeconds int) {
	s.write(Notification{Method: "client.reconnect", Params: []interface{}{"", "", waitSeconds}}.Encode())
}

func (s *Session) write(b []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := s.conn.Write(b); err != nil {
		s.log().Debugf("stratum: write error: %v", err)
	}
}

func (s *Session) toMinerInfo() MinerInfo {
	return MinerInfo{
		SessionID:      s.id,
		WorkerName:     s.workerName,
		UserAgent:      s.userAgent,
		CurrentLevel:   s.currentLevel,
		SharesAccepted: s.sharesAccepted,
		SharesRejected: s.sharesRejected,
		BestDigest:     hex.EncodeToString(s.bestDigest[:]),
	}
}
