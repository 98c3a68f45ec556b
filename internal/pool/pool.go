// Package pool provides a reusable buffer pool for the hot read path of
// sockets.UDPSocket, avoiding one allocation per inbound datagram.
package pool

import "sync"

// DatagramBufSize is large enough for any UDP datagram a conforming
// stack will deliver (the IPv4/IPv6 payload ceiling), so one pool size
// covers every inbound read regardless of MTU.
const DatagramBufSize = 65535

var datagramPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, DatagramBufSize)
		return &b
	},
}

// GetLarge returns a datagram-sized buffer from the pool.
func GetLarge() *[]byte {
	return datagramPool.Get().(*[]byte)
}

// PutLarge returns a buffer obtained from GetLarge to the pool. It is a
// no-op if b was shrunk below DatagramBufSize by the caller.
func PutLarge(b *[]byte) {
	if b == nil || cap(*b) < DatagramBufSize {
		return
	}
	*b = (*b)[:DatagramBufSize]
	datagramPool.Put(b)
}
