package namedsem

// framePool recycles the byte slices event frames are encoded into.
// It is a buffered channel, so Get and Put are safe for concurrent use
// without a mutex.
type framePool struct {
	pool    chan []byte
	bufSize int
}

// newFramePool creates a pool pre-populated with count slices of bufSize bytes.
func newFramePool(bufSize, count int) *framePool {
	pool := make(chan []byte, count)
	for i := 0; i < count; i++ {
		pool <- make([]byte, bufSize)
	}
	return &framePool{
		pool:    pool,
		bufSize: bufSize,
	}
}

// Get returns a slice from the pool, allocating when the pool is empty.
func (fp *framePool) Get() []byte {
	select {
	case buf := <-fp.pool:
		return buf
	default:
		return make([]byte, fp.bufSize)
	}
}

// Put hands a slice back. Slices that grew past bufSize (large frames) and
// slices arriving when the pool is full are left to the garbage collector.
func (fp *framePool) Put(buf []byte) {
	if cap(buf) != fp.bufSize {
		return
	}
	select {
	case fp.pool <- buf[:fp.bufSize]:
	default:
	}
}
