package registry

import (
	"sync"
	"testing"

	"session-hub/internal/session/domain"
)

func TestClaim_OnePerNumber(t *testing.T) {
	r := NewMemory()
	h, ok := r.Claim("1")
	if !ok || h.Epoch != 1 || h.State != domain.StateInitializing {
		t.Fatalf("Claim = %+v, %v", h, ok)
	}
	again, ok := r.Claim("1")
	if ok {
		t.Fatal("second Claim should report the existing handle")
	}
	if again.Epoch != h.Epoch {
		t.Errorf("existing epoch = %d, want %d", again.Epoch, h.Epoch)
	}
	other, ok := r.Claim("2")
	if !ok || other.Epoch != 1 {
		t.Errorf("Claim other number = %+v, %v", other, ok)
	}
}

func TestClaim_Concurrent(t *testing.T) {
	r := NewMemory()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Claim("94771234567"); ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Errorf("%d claims won, want 1", won)
	}
}

func TestEpochsNeverReused(t *testing.T) {
	r := NewMemory()
	h1, _ := r.Claim("1")
	if !r.Release("1", h1.Epoch) {
		t.Fatal("Release current epoch failed")
	}
	h2, _ := r.Claim("1")
	if h2.Epoch <= h1.Epoch {
		t.Errorf("epoch after release = %d, want > %d", h2.Epoch, h1.Epoch)
	}
	r.Invalidate("1")
	h3, _ := r.Claim("1")
	if h3.Epoch <= h2.Epoch+1 {
		t.Errorf("epoch after invalidate = %d, want > %d", h3.Epoch, h2.Epoch+1)
	}
}

func TestStaleEpochIsRejected(t *testing.T) {
	r := NewMemory()
	h, _ := r.Claim("1")
	renewed, ok := r.Renew("1", h.Epoch)
	if !ok || renewed.Epoch != h.Epoch+1 {
		t.Fatalf("Renew = %+v, %v", renewed, ok)
	}
	if r.Current("1", h.Epoch) {
		t.Error("old epoch still current after Renew")
	}
	if r.SetState("1", h.Epoch, domain.StateConnected) {
		t.Error("SetState accepted stale epoch")
	}
	if _, ok := r.Renew("1", h.Epoch); ok {
		t.Error("Renew accepted stale epoch")
	}
	if r.Release("1", h.Epoch) {
		t.Error("Release accepted stale epoch")
	}
	if !r.Current("1", renewed.Epoch) {
		t.Error("renewed epoch not current")
	}
}

func TestInvalidate(t *testing.T) {
	r := NewMemory()
	h, _ := r.Claim("1")
	r.Invalidate("1")
	if _, ok := r.Get("1"); ok {
		t.Error("handle still present after Invalidate")
	}
	if r.Current("1", h.Epoch) {
		t.Error("epoch current after Invalidate")
	}
	if _, ok := r.Renew("1", h.Epoch); ok {
		t.Error("Renew succeeded after Invalidate")
	}
	// Invalidating an unknown number is harmless.
	r.Invalidate("2")
}

func TestConnectedAndLive(t *testing.T) {
	r := NewMemory()
	a, _ := r.Claim("300")
	r.Claim("100")
	c, _ := r.Claim("200")
	r.SetState("300", a.Epoch, domain.StateConnected)
	r.SetState("200", c.Epoch, domain.StateConnected)

	got := r.Connected()
	if len(got) != 2 || got[0] != "200" || got[1] != "300" {
		t.Errorf("Connected = %v, want [200 300]", got)
	}
	live := r.Live()
	if len(live) != 3 || live[0] != "100" {
		t.Errorf("Live = %v", live)
	}
	r.SetState("300", a.Epoch, domain.StateReconnecting)
	if got := r.Connected(); len(got) != 1 || got[0] != "200" {
		t.Errorf("Connected after reconnecting = %v, want [200]", got)
	}
}
