package mqttclient

import "sync"

// maxPooledBuffer keeps buffers that grew for one large publish out of the pool.
const maxPooledBuffer = 64 * 1024

// bufferPool holds encode buffers for outbound packets.
var bufferPool = sync.Pool{
	New: func() any {
		return &buffer{b: make([]byte, 0, 256)}
	},
}

// getBuffer returns an empty pooled buffer.
func getBuffer() *buffer {
	w := bufferPool.Get().(*buffer)
	w.Reset()
	return w
}

// putBuffer returns w to the pool.
func putBuffer(w *buffer) {
	if w == nil || cap(w.b) > maxPooledBuffer {
		return
	}
	w.Reset()
	bufferPool.Put(w)
}
