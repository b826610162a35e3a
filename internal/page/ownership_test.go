package page

import "testing"

// P2/I3: for every slot, exactly one of client/server considers it
// owned at any observable point.
func TestVideoOwnershipHandoff(t *testing.T) {
	p, err := New(Geometry{Width: 4, Height: 4}, 2, 1, 64, 8000)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < p.Video.Count(); i++ {
		if p.VideoOwned(i) {
			t.Fatalf("slot %d should start client-owned", i)
		}
	}

	if err := p.PublishVideo(0); err != nil {
		t.Fatal(err)
	}
	if !p.VideoOwned(0) {
		t.Fatal("slot 0 should be server-owned after publish")
	}
	if err := p.CheckVReady(); err != nil {
		t.Fatal(err)
	}

	if err := p.PublishVideo(0); err == nil {
		t.Fatal("publishing an already server-owned slot must fail")
	}

	got := p.AcquireVideo()
	if got != 0 {
		t.Fatalf("expected acquire to return slot 0, got %d", got)
	}
	if p.VideoOwned(0) {
		t.Fatal("slot 0 should be client-owned again after acquire")
	}
	if p.VReady != 0 {
		t.Fatal("VReady must be zeroed after acquire")
	}
}

func TestAudioOwnershipHandoff(t *testing.T) {
	p, err := New(Geometry{Width: 4, Height: 4}, 1, 2, 128, 8000)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.PublishAudio(1, 96); err != nil {
		t.Fatal(err)
	}
	if !p.AudioOwned(1) {
		t.Fatal("expected slot 1 server-owned")
	}
	if p.ABufUsed[1] != 96 {
		t.Fatalf("expected abufused[1]=96, got %d", p.ABufUsed[1])
	}
	if got := p.AcquireAudio(); got != 1 {
		t.Fatalf("expected acquire to return 1, got %d", got)
	}
}

func TestVReadyInvariant(t *testing.T) {
	p, _ := New(Geometry{Width: 2, Height: 2}, 1, 1, 32, 8000)
	p.VReady = 1 // claims slot 0 but pending bit never set
	if err := p.CheckVReady(); err == nil {
		t.Fatal("expected I4 violation to be detected")
	}
}
