// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/mpq"
)

// expectRoundTrip checks that the queue still accepts and returns elements,
// which fails if the parked flag was left set.
func expectRoundTrip(t *testing.T, q *mpq.MPSCBlocking[int], v int) {
	t.Helper()
	if err := q.Offer(v); err != nil {
		t.Fatalf("Offer(%d): %v", v, err)
	}
	if got, err := q.Poll(); err != nil || got != v {
		t.Fatalf("Poll: got (%d, %v), want (%d, nil)", got, err, v)
	}
	if !q.IsEmpty() {
		t.Fatal("IsEmpty: got false")
	}
}

func TestMPSCBlockingTakeReady(t *testing.T) {
	q := mpq.NewMPSCBlocking[int](4)
	q.Offer(7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A queued element is returned even if ctx is already done.
	if v, err := q.Take(ctx); err != nil || v != 7 {
		t.Fatalf("Take: got (%d, %v), want (7, nil)", v, err)
	}
}

func TestMPSCBlockingTakeHandoff(t *testing.T) {
	if mpq.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}
	q := mpq.NewMPSCBlocking[int](4)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Offer(42)
	}()

	v, err := q.Take(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("Take: got (%d, %v), want (42, nil)", v, err)
	}
	expectRoundTrip(t, q, 1)
}

func TestMPSCBlockingTakeCancel(t *testing.T) {
	q := mpq.NewMPSCBlocking[int](4)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := q.Take(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Take: got %v, want context.Canceled", err)
	}
	expectRoundTrip(t, q, 3)
}

func TestMPSCBlockingTakeDeadline(t *testing.T) {
	q := mpq.NewMPSCBlocking[int](4)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Take(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Take: got %v, want context.DeadlineExceeded", err)
	}
	expectRoundTrip(t, q, 4)
}

func TestMPSCBlockingPollTimeout(t *testing.T) {
	q := mpq.NewMPSCBlocking[int](4)

	start := time.Now()
	_, err := q.PollTimeout(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, mpq.ErrWouldBlock) {
		t.Fatalf("PollTimeout: got %v, want ErrWouldBlock", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("PollTimeout returned after %v, want >= 20ms", elapsed)
	}
	expectRoundTrip(t, q, 5)

	// Non-positive timeout does not park.
	if _, err := q.PollTimeout(context.Background(), 0); !mpq.IsWouldBlock(err) {
		t.Fatalf("PollTimeout(0): got %v, want ErrWouldBlock", err)
	}
	q.Offer(6)
	if v, err := q.PollTimeout(context.Background(), time.Second); err != nil || v != 6 {
		t.Fatalf("PollTimeout: got (%d, %v), want (6, nil)", v, err)
	}
}

func TestMPSCBlockingPollTimeoutHandoff(t *testing.T) {
	if mpq.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}
	q := mpq.NewMPSCBlocking[int](4)

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Offer(9)
	}()
	v, err := q.PollTimeout(context.Background(), 5*time.Second)
	if err != nil || v != 9 {
		t.Fatalf("PollTimeout: got (%d, %v), want (9, nil)", v, err)
	}
}

func TestMPSCBlockingDrainTimeout(t *testing.T) {
	q := mpq.NewMPSCBlocking[int](8)
	for i := range 3 {
		q.Offer(i)
	}

	var got []int
	n, err := q.DrainTimeout(context.Background(), func(v int) { got = append(got, v) }, 10, 10*time.Millisecond)
	if err != nil || n != 3 {
		t.Fatalf("DrainTimeout: got (%d, %v), want (3, nil)", n, err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("DrainTimeout[%d]: got %d, want %d", i, v, i)
		}
	}

	n, err = q.DrainTimeout(context.Background(), func(int) {}, 10, 5*time.Millisecond)
	if n != 0 || !mpq.IsWouldBlock(err) {
		t.Fatalf("DrainTimeout on empty: got (%d, %v), want (0, ErrWouldBlock)", n, err)
	}
	if n, err := q.DrainTimeout(context.Background(), func(int) {}, 0, time.Second); n != 0 || err != nil {
		t.Fatalf("DrainTimeout limit 0: got (%d, %v), want (0, nil)", n, err)
	}
}

// TestMPSCBlockingHandoffStress verifies that a consumer parking on every
// empty observation receives every element exactly once, with short
// timeouts racing against producer handoffs.
func TestMPSCBlockingHandoffStress(t *testing.T) {
	if testing.Short() {
		t.Skip("skip: stress test")
	}
	if mpq.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}

	const (
		numProducers = 8
		itemsPerProd = 2000
		totalItems   = numProducers * itemsPerProd
	)

	q := mpq.NewMPSCBlocking[int](16)
	seen := make([]atomix.Int32, totalItems)
	var timeouts atomix.Int64

	var wg sync.WaitGroup
	for p := range numProducers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			backoff := iox.Backoff{}
			for i := range itemsPerProd {
				for q.Offer(id*itemsPerProd+i) != nil {
					backoff.Wait()
				}
				backoff.Reset()
				if i%64 == 0 {
					time.Sleep(50 * time.Microsecond)
				}
			}
		}(p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for consumed := 0; consumed < totalItems; {
		var v int
		var err error
		if consumed%2 == 0 {
			v, err = q.PollTimeout(ctx, 20*time.Microsecond)
		} else {
			v, err = q.Take(ctx)
		}
		if mpq.IsWouldBlock(err) {
			timeouts.Add(1)
			continue
		}
		if err != nil {
			t.Fatalf("consumer: %v after %d items", err, consumed)
		}
		if v < 0 || v >= totalItems {
			t.Fatalf("out of range: %d", v)
		}
		seen[v].Add(1)
		consumed++
	}
	wg.Wait()

	for i := range totalItems {
		if c := seen[i].Load(); c != 1 {
			t.Fatalf("item %d seen %d times", i, c)
		}
	}
	if !q.IsEmpty() {
		t.Fatal("IsEmpty: got false after consuming everything")
	}
	t.Logf("blocking handoff: items=%d timeouts=%d", totalItems, timeouts.Load())
}

// TestMPSCBlockingCancelStress parks the consumer with deadlines of a few
// microseconds against live producers, so cancellation regularly races a
// handoff. An element must be returned with a nil error exactly once; an
// error must never swallow one.
func TestMPSCBlockingCancelStress(t *testing.T) {
	if testing.Short() {
		t.Skip("skip: stress test")
	}
	if mpq.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}

	const (
		numProducers = 4
		itemsPerProd = 4000
		totalItems   = numProducers * itemsPerProd
	)

	q := mpq.NewMPSCBlocking[int](8)
	seen := make([]atomix.Int32, totalItems)
	var cancels atomix.Int64

	var wg sync.WaitGroup
	for p := range numProducers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			backoff := iox.Backoff{}
			for i := range itemsPerProd {
				for q.Offer(id*itemsPerProd+i) != nil {
					backoff.Wait()
				}
				backoff.Reset()
				if i%16 == 0 {
					time.Sleep(time.Duration(1+i%3) * time.Microsecond)
				}
			}
		}(p)
	}

	deadline := time.Now().Add(30 * time.Second)
	for consumed := 0; consumed < totalItems; {
		if time.Now().After(deadline) {
			t.Fatalf("timeout: consumed=%d", consumed)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(1+consumed%4)*time.Microsecond)
		v, err := q.Take(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("Take: got %v, want DeadlineExceeded", err)
			}
			if v != 0 {
				t.Fatalf("Take: got %d with error %v", v, err)
			}
			cancels.Add(1)
			continue
		}
		if v < 0 || v >= totalItems {
			t.Fatalf("out of range: %d", v)
		}
		seen[v].Add(1)
		consumed++
	}
	wg.Wait()

	for i := range totalItems {
		if c := seen[i].Load(); c != 1 {
			t.Fatalf("item %d seen %d times", i, c)
		}
	}
	expectRoundTrip(t, q, 1)
	t.Logf("cancel stress: items=%d cancels=%d", totalItems, cancels.Load())
}
