package page

import "fmt"

// BufferChain is the video buffer chain, spec.md §3.2: 1..N equal-sized
// buffers. Ownership of slot i is the server's iff the i-th bit of
// VPending is set; otherwise it is the client's (I3).
type BufferChain struct {
	buffers [][]byte
}

func newBufferChain(n, size int) BufferChain {
	bc := BufferChain{buffers: make([][]byte, n)}
	for i := range bc.buffers {
		bc.buffers[i] = make([]byte, size)
	}
	return bc
}

// Count returns the negotiated chain length.
func (bc *BufferChain) Count() int { return len(bc.buffers) }

// BufferSize returns the byte size of one video buffer.
func (bc *BufferChain) BufferSize() int {
	if len(bc.buffers) == 0 {
		return 0
	}
	return len(bc.buffers[0])
}

// At returns the byte contents of slot i.
func (bc *BufferChain) At(i int) []byte {
	return bc.buffers[i]
}

// VideoOwned reports whether video slot i is currently server-owned, per the
// VPending bitmask (I3).
func (p *Page) VideoOwned(i int) bool {
	return p.VPending&(1<<uint(i)) != 0
}

// AudioOwned reports whether audio slot i is currently server-owned.
func (p *Page) AudioOwned(i int) bool {
	return p.APending&(1<<uint(i)) != 0
}

// PublishVideo implements the client-side half of ownership handoff
// (spec.md §3.2): the client sets its bit in VPending and writes its
// index into VReady. It is an error to publish a slot the client does
// not currently own.
func (p *Page) PublishVideo(i int) error {
	if p.VideoOwned(i) {
		return fmt.Errorf("page: video slot %d already server-owned", i)
	}
	p.VPending |= 1 << uint(i)
	p.VReady = uint32(i) + 1
	return nil
}

// AcquireVideo implements the server-side half: it clears the slot's
// VPending bit and zeroes VReady, handing ownership back to the client.
// AcquireVideo returns the 0-based index consumed, or -1 if VReady was
// already clear.
func (p *Page) AcquireVideo() int {
	if p.VReady == 0 {
		return -1
	}
	i := int(p.VReady - 1)
	p.VPending &^= 1 << uint(i)
	p.VReady = 0
	return i
}

// PublishAudio is the audio analogue of PublishVideo.
func (p *Page) PublishAudio(i int, used uint32) error {
	if p.AudioOwned(i) {
		return fmt.Errorf("page: audio slot %d already server-owned", i)
	}
	p.APending |= 1 << uint(i)
	p.AReady = uint32(i) + 1
	if i < len(p.ABufUsed) {
		p.ABufUsed[i] = used
	}
	return nil
}

// AcquireAudio is the audio analogue of AcquireVideo.
func (p *Page) AcquireAudio() int {
	if p.AReady == 0 {
		return -1
	}
	i := int(p.AReady - 1)
	p.APending &^= 1 << uint(i)
	p.AReady = 0
	return i
}

// CheckVReady validates I4: VReady is either 0 or a value whose
// corresponding VPending bit is set.
func (p *Page) CheckVReady() error {
	if p.VReady == 0 {
		return nil
	}
	i := p.VReady - 1
	if p.VPending&(1<<i) == 0 {
		return fmt.Errorf("page: I4 violated: vready=%d but vpending bit clear", p.VReady)
	}
	return nil
}

// AudioChain is the audio buffer chain, spec.md §3.2: 1..M equal-sized
// interleaved-sample byte buffers.
type AudioChain struct {
	buffers [][]byte
	bufSize uint32
}

func newAudioChain(n int, bufSize uint32) AudioChain {
	ac := AudioChain{buffers: make([][]byte, n), bufSize: bufSize}
	for i := range ac.buffers {
		ac.buffers[i] = make([]byte, bufSize)
	}
	return ac
}

// Count returns the negotiated chain length.
func (ac *AudioChain) Count() int { return len(ac.buffers) }

// At returns the byte contents of slot i.
func (ac *AudioChain) At(i int) []byte {
	return ac.buffers[i]
}
