package socket

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
)

var idCounter atomic.Uint64

// generateID returns 16 random hex characters followed by a process-local
// counter, so IDs stay unique even if the random source fails.
func generateID() string {
	counter := idCounter.Add(1)
	suffix := make([]byte, 8)
	binary.BigEndian.PutUint64(suffix, counter)

	id := make([]byte, 8)
	if _, err := rand.Read(id); err != nil {
		return hex.EncodeToString(suffix)
	}
	return hex.EncodeToString(id) + "-" + hex.EncodeToString(suffix)[12:]
}
