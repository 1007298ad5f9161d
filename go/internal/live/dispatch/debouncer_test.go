package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type recorder struct {
	mu       sync.Mutex
	payloads []any
	err      error
}

func (r *recorder) transmit(_ context.Context, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func (r *recorder) last() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return nil
	}
	return r.payloads[len(r.payloads)-1]
}

// waitForCount polls because fake timers fire their callbacks on their own
// goroutine, mirroring time.AfterFunc.
func waitForCount(t *testing.T, r *recorder, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("transmission count = %d, want %d", r.count(), want)
}

func settle() {
	time.Sleep(20 * time.Millisecond)
}

func testProfile() Profile {
	return Profile{Name: "test", Delay: 200 * time.Millisecond, MaxWait: 500 * time.Millisecond}
}

func TestSendCoalescesBurstToLastPayload(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	d := New(testProfile(), rec.transmit, WithClock(clock))

	for i := 1; i <= 5; i++ {
		d.Send(i)
		clock.Advance(10 * time.Millisecond)
	}
	settle()
	if got := rec.count(); got != 0 {
		t.Fatalf("transmitted %d times before delay elapsed, want 0", got)
	}

	clock.Advance(200 * time.Millisecond)
	waitForCount(t, rec, 1)
	if got := rec.last(); got != 5 {
		t.Fatalf("transmitted payload = %v, want 5 (last write wins)", got)
	}
}

func TestSendAfterQuietWindowTransmitsEach(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	d := New(testProfile(), rec.transmit, WithClock(clock))

	d.Send("a")
	clock.Advance(200 * time.Millisecond)
	waitForCount(t, rec, 1)

	d.Send("b")
	clock.Advance(200 * time.Millisecond)
	waitForCount(t, rec, 2)
	if got := rec.last(); got != "b" {
		t.Fatalf("second payload = %v, want b", got)
	}
}

func TestMaxWaitBoundsContinuousSends(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	d := New(testProfile(), rec.transmit, WithClock(clock))

	// Continuous sends every 100ms, faster than the 200ms delay: the delay
	// timer alone would never fire, but the 500ms max wait must.
	d.Send(0)
	for i := 1; i <= 5; i++ {
		clock.Advance(100 * time.Millisecond)
		d.Send(i)
	}

	// The send at t=500ms hits the max-wait bound and fires synchronously.
	if got := rec.count(); got != 1 {
		t.Fatalf("transmissions after 500ms of continuous sends = %d, want 1", got)
	}
	if got := rec.last(); got != 5 {
		t.Fatalf("max-wait payload = %v, want 5", got)
	}

	// The next burst starts with the send after that transmission, so its
	// bound lands max-wait later again.
	for i := 6; i <= 11; i++ {
		clock.Advance(100 * time.Millisecond)
		d.Send(i)
	}
	if got := rec.count(); got != 2 {
		t.Fatalf("transmissions after the second burst's max wait = %d, want 2", got)
	}
	if got := rec.last(); got != 11 {
		t.Fatalf("second max-wait payload = %v, want 11", got)
	}
}

func TestBurstAfterIdleCoalescesToOne(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	d := New(testProfile(), rec.transmit, WithClock(clock))

	d.Send("warmup")
	clock.Advance(200 * time.Millisecond)
	waitForCount(t, rec, 1)

	// Idle far past the max wait, then a rapid burst: the gap must not make
	// the first call fire immediately with a stale payload.
	clock.Advance(5 * time.Second)
	d.Send("x1")
	d.Send("x2")
	d.Send("x3")
	settle()
	if got := rec.count(); got != 1 {
		t.Fatalf("transmissions during after-idle burst = %d, want 1", got)
	}

	clock.Advance(200 * time.Millisecond)
	waitForCount(t, rec, 2)
	if got := rec.last(); got != "x3" {
		t.Fatalf("coalesced payload = %v, want x3", got)
	}
}

func TestFlushTransmitsPendingImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	d := New(testProfile(), rec.transmit, WithClock(clock))

	d.Send("pending")
	d.Flush()
	if got := rec.count(); got != 1 {
		t.Fatalf("transmissions after flush = %d, want 1", got)
	}
	if got := rec.last(); got != "pending" {
		t.Fatalf("flushed payload = %v, want pending", got)
	}

	// The delay timer must not fire a second time.
	clock.Advance(time.Second)
	settle()
	if got := rec.count(); got != 1 {
		t.Fatalf("transmissions after flush + delay = %d, want 1", got)
	}
}

func TestFlushWithoutPendingIsNoop(t *testing.T) {
	rec := &recorder{}
	d := New(testProfile(), rec.transmit, WithClock(clockwork.NewFakeClock()))

	d.Flush()
	d.Flush()
	if got := rec.count(); got != 0 {
		t.Fatalf("transmissions after empty flushes = %d, want 0", got)
	}

	d.Send("x")
	d.Flush()
	d.Flush()
	if got := rec.count(); got != 1 {
		t.Fatalf("transmissions after double flush = %d, want 1", got)
	}
}

func TestCancelDiscardsPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	d := New(testProfile(), rec.transmit, WithClock(clock))

	d.Send("doomed")
	d.Cancel()
	clock.Advance(time.Second)
	settle()
	if got := rec.count(); got != 0 {
		t.Fatalf("transmissions after cancel = %d, want 0", got)
	}

	d.Flush()
	if got := rec.count(); got != 0 {
		t.Fatalf("flush after cancel transmitted %d, want 0", got)
	}
}

func TestCloseRejectsFurtherSends(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	d := New(testProfile(), rec.transmit, WithClock(clock))

	d.Send("pending")
	d.Close()
	d.Send("after close")
	clock.Advance(time.Second)
	settle()
	if got := rec.count(); got != 0 {
		t.Fatalf("transmissions after close = %d, want 0", got)
	}
}

func TestTransmitErrorDoesNotBlockLaterSends(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{err: errors.New("boom")}
	d := New(testProfile(), rec.transmit, WithClock(clock))

	d.Send("a")
	clock.Advance(200 * time.Millisecond)
	waitForCount(t, rec, 1)

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()

	d.Send("b")
	clock.Advance(200 * time.Millisecond)
	waitForCount(t, rec, 2)
}

func TestMaxWaitDefaultsToTripleDelay(t *testing.T) {
	d := New(Profile{Name: "d", Delay: 100 * time.Millisecond}, (&recorder{}).transmit)
	if got, want := d.profile.MaxWait, 300*time.Millisecond; got != want {
		t.Fatalf("default MaxWait = %v, want %v", got, want)
	}
}

func TestNamedProfiles(t *testing.T) {
	lyric := LyricNav()
	if lyric.Delay != 200*time.Millisecond || lyric.MaxWait != 500*time.Millisecond {
		t.Fatalf("lyric profile = %+v, want 200ms/500ms", lyric)
	}
	song := SongSelect()
	if song.Delay != 300*time.Millisecond || song.MaxWait != 800*time.Millisecond {
		t.Fatalf("song profile = %+v, want 300ms/800ms", song)
	}
}
