package worker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"chainweb-mining-client/internal/work"
)

// OnDemand exposes the current mining job over HTTP instead of hashing
// itself: an external controller (an ASIC's own firmware, a manual
// operator script) polls GET /work for the job and POSTs a candidate
// nonce to /solution. It is the inverse of External: External pushes
// work to a subprocess's stdin, OnDemand waits to be pulled.
type OnDemand struct {
	Addr string
	Log  logrus.FieldLogger

	mu      sync.Mutex
	current *onDemandJob
	srv     *http.Server
}

type onDemandJob struct {
	work     work.Work
	target   work.Target
	solution chan uint64
}

type workResponse struct {
	Work   string `json:"work"`
	Target string `json:"target"`
}

type solutionRequest struct {
	Nonce string `json:"nonce"`
}

// Name implements Worker.
func (o *OnDemand) Name() string { return "on-demand" }

// Start brings up the HTTP listener. It must be called once before the
// first call to Mine.
func (o *OnDemand) Start() error {
	log := o.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := mux.NewRouter()
	r.HandleFunc("/work", o.handleGetWork).Methods(http.MethodGet)
	r.HandleFunc("/solution", o.handlePostSolution).Methods(http.MethodPost)

	ln, err := net.Listen("tcp", o.Addr)
	if err != nil {
		return fmt.Errorf("on-demand worker: listen: %w", err)
	}

	o.srv = &http.Server{Handler: r}
	go func() {
		if err := o.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("on-demand worker: http server stopped")
		}
	}()
	return nil
}

// Stop shuts down the HTTP listener.
func (o *OnDemand) Stop(ctx context.Context) error {
	if o.srv == nil {
		return nil
	}
	return o.srv.Shutdown(ctx)
}

// Mine implements Worker: it publishes w/target for /work to serve, then
// waits for a solution to be posted or ctx to be cancelled.
func (o *OnDemand) Mine(ctx context.Context, w work.Work, target work.Target) (work.MiningResult, error) {
	job := &onDemandJob{work: w, target: target, solution: make(chan uint64, 1)}

	o.mu.Lock()
	o.current = job
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.current == job {
			o.current = nil
		}
		o.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return work.MiningResult{}, ErrCancelled
	case nonce := <-job.solution:
		solved := w.SetNonce(nonce)
		digest := solved.Digest()
		if !target.Meets(digest) {
			return work.MiningResult{}, fmt.Errorf("on-demand worker: reported nonce does not meet target")
		}
		return work.MiningResult{Work: solved, Digest: digest}, nil
	}
}

func (o *OnDemand) handleGetWork(rw http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	job := o.current
	o.mu.Unlock()

	if job == nil {
		http.Error(rw, "no job in progress", http.StatusServiceUnavailable)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(workResponse{
		Work:   hex.EncodeToString(job.work.Bytes()),
		Target: job.target.Hex(),
	})
}

func (o *OnDemand) handlePostSolution(rw http.ResponseWriter, r *http.Request) {
	var req solutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "malformed body", http.StatusBadRequest)
		return
	}

	nonceBytes, err := hex.DecodeString(req.Nonce)
	if err != nil || len(nonceBytes) != work.NonceSize {
		http.Error(rw, "malformed nonce", http.StatusBadRequest)
		return
	}

	o.mu.Lock()
	job := o.current
	o.mu.Unlock()
	if job == nil {
		http.Error(rw, "no job in progress", http.StatusConflict)
		return
	}

	var nonce uint64
	for i := work.NonceSize - 1; i >= 0; i-- {
		nonce = nonce<<8 | uint64(nonceBytes[i])
	}

	select {
	case job.solution <- nonce:
		rw.WriteHeader(http.StatusAccepted)
	default:
		http.Error(rw, "solution already submitted", http.StatusConflict)
	}
}
