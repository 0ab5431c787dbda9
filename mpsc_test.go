// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/mpq"
)

// =============================================================================
// Fail-Fast Offer
// =============================================================================

func TestMPSCFailFastOffer(t *testing.T) {
	q := mpq.NewMPSC[int](2)

	if r := q.FailFastOffer(1); r != mpq.OfferOK {
		t.Fatalf("FailFastOffer: got %v, want ok", r)
	}
	if r := q.FailFastOffer(2); r != mpq.OfferOK {
		t.Fatalf("FailFastOffer: got %v, want ok", r)
	}
	if r := q.FailFastOffer(3); r != mpq.OfferFull {
		t.Fatalf("FailFastOffer on full: got %v, want full", r)
	}

	q.Poll()
	if r := q.FailFastOffer(3); r != mpq.OfferOK {
		t.Fatalf("FailFastOffer after poll: got %v, want ok", r)
	}
	for _, want := range []int{2, 3} {
		if v, err := q.Poll(); err != nil || v != want {
			t.Fatalf("Poll: got (%d, %v), want (%d, nil)", v, err, want)
		}
	}
}

func TestOfferResultString(t *testing.T) {
	tests := []struct {
		r    mpq.OfferResult
		want string
	}{
		{mpq.OfferOK, "ok"},
		{mpq.OfferFull, "full"},
		{mpq.OfferContended, "contended"},
		{mpq.OfferResult(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("OfferResult(%d).String: got %q, want %q", int(tt.r), got, tt.want)
		}
	}
}

func TestMPSCFailFastOfferContention(t *testing.T) {
	if mpq.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}

	const producers, attempts = 8, 2000
	q := mpq.NewMPSC[int](producers * attempts)

	var ok, contended atomix.Int64
	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range attempts {
				switch q.FailFastOffer(i) {
				case mpq.OfferOK:
					ok.Add(1)
				case mpq.OfferContended:
					contended.Add(1)
				case mpq.OfferFull:
					t.Error("FailFastOffer: unexpected full")
				}
			}
		}()
	}
	wg.Wait()

	// Every accepted element is in the queue, nothing else.
	if got := int64(q.Size()); got != ok.Load() {
		t.Fatalf("Size: got %d, want %d", got, ok.Load())
	}
	if ok.Load()+contended.Load() != producers*attempts {
		t.Fatalf("results: ok=%d contended=%d, want sum %d", ok.Load(), contended.Load(), producers*attempts)
	}
	t.Logf("FailFastOffer: ok=%d contended=%d", ok.Load(), contended.Load())
}

// =============================================================================
// Threshold Offer
// =============================================================================

func TestMPSCOfferIfBelowThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		want      int
	}{
		{"zero", 0, 0},
		{"negative", -1, 0},
		{"three", 3, 3},
		{"capacity", 8, 8},
		{"above capacity", 100, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := mpq.NewMPSC[int](8)
			accepted := 0
			for i := range 16 {
				if q.OfferIfBelowThreshold(i, tt.threshold) != nil {
					break
				}
				accepted++
			}
			if accepted != tt.want {
				t.Fatalf("accepted: got %d, want %d", accepted, tt.want)
			}
			if n := q.Size(); n != tt.want {
				t.Fatalf("Size: got %d, want %d", n, tt.want)
			}
		})
	}
}

func TestMPSCOfferIfBelowThresholdRecovers(t *testing.T) {
	q := mpq.NewMPSC[int](8)
	for i := range 4 {
		if err := q.OfferIfBelowThreshold(i, 4); err != nil {
			t.Fatalf("OfferIfBelowThreshold(%d): %v", i, err)
		}
	}
	if err := q.OfferIfBelowThreshold(4, 4); !mpq.IsWouldBlock(err) {
		t.Fatalf("at threshold: got %v, want ErrWouldBlock", err)
	}
	// Plain Offer ignores the threshold.
	if err := q.Offer(4); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	q.Poll()
	q.Poll()
	if err := q.OfferIfBelowThreshold(5, 4); err != nil {
		t.Fatalf("below threshold after polls: %v", err)
	}
	for _, want := range []int{2, 3, 4, 5} {
		if v, err := q.Poll(); err != nil || v != want {
			t.Fatalf("Poll: got (%d, %v), want (%d, nil)", v, err, want)
		}
	}
}

// =============================================================================
// Batched Fill
// =============================================================================

func TestMPSCFillClaimsBatch(t *testing.T) {
	q := mpq.NewMPSC[int](8)
	calls := 0
	supply := func() int {
		calls++
		return calls
	}

	if n := q.Fill(supply, 5); n != 5 {
		t.Fatalf("Fill: got %d, want 5", n)
	}
	// Only 3 slots left; the supplier is not called for unclaimed slots.
	if n := q.Fill(supply, 10); n != 3 {
		t.Fatalf("Fill: got %d, want 3", n)
	}
	if calls != 8 {
		t.Fatalf("supplier calls: got %d, want 8", calls)
	}
	if n := q.Fill(supply, 1); n != 0 {
		t.Fatalf("Fill on full: got %d, want 0", n)
	}
	for want := 1; want <= 8; want++ {
		if v, err := q.Poll(); err != nil || v != want {
			t.Fatalf("Poll: got (%d, %v), want (%d, nil)", v, err, want)
		}
	}
}
