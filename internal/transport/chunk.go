package transport

import (
	"time"
)

// Chunker splits a payload into writes of at most Size bytes and pauses
// Delay after each one.
type Chunker struct {
	Size  int
	Delay time.Duration
}

var (
	// BLEUnacknowledged is used when the characteristic accepts write commands.
	BLEUnacknowledged = Chunker{Size: 180}
	// BLEAcknowledged is used for write requests.
	BLEAcknowledged = Chunker{Size: 20, Delay: 10 * time.Millisecond}
	// BLERecovery is the single restart after a failed BLE transfer.
	BLERecovery = Chunker{Size: 20, Delay: 20 * time.Millisecond}
	// SerialChunks is used for every serial write.
	SerialChunks = Chunker{Size: 128, Delay: 10 * time.Millisecond}
)

// Sleeper pauses between chunks. Tests replace it to avoid real sleeps.
type Sleeper func(time.Duration)

// sendChunks writes payload in order, one chunk per write call. It returns
// the number of bytes acknowledged by write before the first failure.
func sendChunks(payload []byte, c Chunker, sleep Sleeper, write func([]byte) error) (int, error) {
	size := c.Size
	if size <= 0 {
		size = len(payload)
	}
	sent := 0
	for sent < len(payload) {
		end := min(sent+size, len(payload))
		if err := write(payload[sent:end]); err != nil {
			return sent, err
		}
		sent = end
		if c.Delay > 0 && sleep != nil {
			sleep(c.Delay)
		}
	}
	return sent, nil
}
