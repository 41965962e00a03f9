// Constants
package internal

import (
	"time"
)

// Poller tuning. MAX_EVENTS caps both the pending change-list and the event
// buffer handed to the kernel per poll; crossing it forces an early flush.
const MAX_EVENTS 	= 10

// The kernel wait is bounded so the loop can notice shutdown and externally
// queued work even when no event ever fires.
const SHORT_TIMEOUT = 1 * time.Second

// One-shot timer slots (sleeps plus deadline guards) that can be armed at once.
const TIMER_SLOTS 	= 0x100

// Read-cache geometry. One block per frame, block = the usual OS page.
const BLOCK_SIZE 	= 0x1000

func BlockIdToOffset(blockId uint64) int64 {
	return int64(blockId * BLOCK_SIZE)
}
