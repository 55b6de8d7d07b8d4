package stratum

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"chainweb-mining-client/internal/work"
)

// ShareSubmission is a parsed mining.submit: the job being worked and the
// miner-chosen Nonce2 suffix.
type ShareSubmission struct {
	JobID  string
	Nonce2 string // hex, Nonce2Size bytes
}

// zeroNonce2 is spliced into a session's job template before the miner
// has chosen a Nonce2: only the Nonce1 prefix matters for the copy sent
// over mining.notify, and this keeps the template's nonce field fully
// determined.
var zeroNonce2 = make([]byte, Nonce2Size)

// ShareResult describes an accepted share.
type ShareResult struct {
	Work   work.Work
	Digest [32]byte
	// MeetsBlockTarget is true when the share also solves the real chain
	// target, not just the (possibly easier) session target.
	MeetsBlockTarget bool
}

// ShareValidator checks submitted shares against a session's job and
// difficulty target, rejecting stale jobs, malformed submissions, and
// duplicates.
type ShareValidator struct {
	store *JobStore

	mu   sync.Mutex
	seen map[string]map[string]bool // jobID -> set of seen nonce2 hex strings
}

// NewShareValidator returns a validator backed by store.
func NewShareValidator(store *JobStore) *ShareValidator {
	return &ShareValidator{store: store, seen: make(map[string]map[string]bool)}
}

// Validate checks sub against nonce1 (the session's assigned prefix) and
// sessionTarget (the session's current share-acceptance target,
// typically easier than the real chain target).
func (v *ShareValidator) Validate(nonce1 uint16, sessionTarget work.Target, sub ShareSubmission) (ShareResult, *Error) {
	job := v.store.Get(sub.JobID)
	if job == nil {
		return ShareResult{}, NewError(ErrStaleJob, "job not found or expired")
	}

	nonce2Bytes, err := hex.DecodeString(sub.Nonce2)
	if err != nil || len(nonce2Bytes) != Nonce2Size {
		return ShareResult{}, NewError(ErrOther, fmt.Sprintf("malformed nonce2 (expected %d bytes)", Nonce2Size))
	}

	if !v.checkAndMarkSeen(sub.JobID, sub.Nonce2) {
		return ShareResult{}, NewError(ErrDuplicate, "duplicate share")
	}

	nonce := assembleNonce(nonce1, nonce2Bytes)
	candidate := job.Work.SetNonce(nonce)
	digest := candidate.Digest()

	if !sessionTarget.Meets(digest) {
		return ShareResult{}, NewError(ErrLowDifficulty, "share does not meet session difficulty")
	}

	return ShareResult{
		Work:             candidate,
		Digest:           digest,
		MeetsBlockTarget: job.Target.Meets(digest),
	}, nil
}

// ForgetJob drops duplicate-tracking state for a job once it is evicted
// from the store, so the map does not grow without bound.
func (v *ShareValidator) ForgetJob(jobID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.seen, jobID)
}

// checkAndMarkSeen reports whether (jobID, nonce2Hex) is new, atomically
// marking it seen in the same locked section so two concurrent
// submissions of the same share can't both observe "not seen yet".
func (v *ShareValidator) checkAndMarkSeen(jobID, nonce2Hex string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seen[jobID][nonce2Hex] {
		return false
	}
	if v.seen[jobID] == nil {
		v.seen[jobID] = make(map[string]bool)
	}
	v.seen[jobID][nonce2Hex] = true
	return true
}

// assembleNonce combines a 2-byte server-assigned prefix and a 6-byte
// miner-chosen suffix into the 8-byte little-endian nonce field: nonce1
// occupies the low-order bytes so the server's allocation and the
// miner's search space never overlap regardless of search order.
func assembleNonce(nonce1 uint16, nonce2 []byte) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint16(buf[0:2], nonce1)
	copy(buf[2:8], nonce2)
	return binary.LittleEndian.Uint64(buf[:])
}
