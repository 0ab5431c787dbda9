// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq

import "code.hybscloud.com/iox"

// ErrWouldBlock indicates the operation cannot proceed immediately.
//
// For Offer: the queue is full (backpressure)
// For Poll/Peek: the queue is empty (no data available)
// For PollTimeout: the timeout elapsed before an element arrived
//
// ErrWouldBlock is a control flow signal, not a failure. The caller should
// retry the operation later (with backoff or yield) rather than propagating
// the error.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
//
// Example:
//
//	backoff := iox.Backoff{}
//	for {
//	    err := q.Offer(item)
//	    if err == nil {
//	        backoff.Reset()
//	        break
//	    }
//	    if mpq.IsWouldBlock(err) {
//	        backoff.Wait()
//	        continue
//	    }
//	    return err
//	}
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Returns true for nil, ErrWouldBlock, or ErrMore.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}

// Panic messages for precondition violations.
const (
	errCapacity     = "mpq: capacity must be >= 2"
	errNilElement   = "mpq: nil element"
	errChunkSize    = "mpq: chunk size must be >= 2 and < max capacity"
	errMaxCapacity  = "mpq: max capacity must be >= 4"
	errSegmentSize  = "mpq: segment size exceeds max capacity"
	errLinkMissing  = "mpq: jump marker without next segment"
	errLookAhead    = "mpq: look-ahead step must be >= 1"
	errEmptySegment = "mpq: new segment must hold at least one element"
)
