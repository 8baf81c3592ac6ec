package satellite

import (
	"sync"

	"nabcore/pkg/protocol"
)

// PacketBuffer is a bounded FIFO of packets held while the hub is
// unreachable. When full, the oldest packet is evicted to make room.
type PacketBuffer struct {
	mu   sync.Mutex
	pkts []protocol.Packet
	cap  int
}

// NewPacketBuffer creates a buffer with the given maximum capacity.
func NewPacketBuffer(capacity int) *PacketBuffer {
	return &PacketBuffer{
		pkts: make([]protocol.Packet, 0, capacity),
		cap:  capacity,
	}
}

// Add appends p, evicting the oldest packet when full. It reports whether a
// packet was evicted.
func (b *PacketBuffer) Add(p protocol.Packet) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cap <= 0 {
		return true
	}
	if len(b.pkts) >= b.cap {
		copy(b.pkts, b.pkts[1:])
		b.pkts[len(b.pkts)-1] = p
		return true
	}
	b.pkts = append(b.pkts, p)
	return false
}

// Drain returns all buffered packets in order and clears the buffer.
func (b *PacketBuffer) Drain() []protocol.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pkts) == 0 {
		return nil
	}
	out := make([]protocol.Packet, len(b.pkts))
	copy(out, b.pkts)
	b.pkts = b.pkts[:0]
	return out
}

// Len returns the number of buffered packets.
func (b *PacketBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pkts)
}
