//go:build unix

package kqio

import (
	"time"

	c "kqio/internal"

	"github.com/cespare/xxhash"
	"github.com/negrel/assert"
)

// A cache frame holds one file block. Frames keep the xxhash of their
// contents from load time; a hit re-checks it under debug builds, which has
// caught more than one buffer-aliasing bug class for free.
type frame struct {
	blockId	uint64
	data	[]byte
	n		int // valid bytes; short only in the EOF block
	sum		uint64
	used	bool
	tick	uint64
}

// Cache is a block cache in front of a positional file's reads. It never
// touches the kernel fd offset - everything below is pread - so it composes
// with concurrent positional writers going around it (call Invalidate after
// writing). Eviction is least-recently-ticked.
type Cache struct {
	f		*File
	raw		[]byte
	frames	[]frame
	index	map[uint64]int // blockId -> frame
	tick	uint64
}

// CreateCache sizes a cache over f. Size is bytes, rounded down to whole
// blocks; anything below one block disables caching and returns nil.
func CreateCache(f *File, size int) *Cache {
	cnt := size / c.BLOCK_SIZE
	if cnt < 1 {
		return nil
	}

	raw := make([]byte, c.BLOCK_SIZE*cnt)
	frames := make([]frame, cnt)
	for i := range frames {
		frames[i].data = raw[c.BLOCK_SIZE*i : c.BLOCK_SIZE*(i+1)]
	}

	return &Cache{
		f: 		f,
		raw: 	raw,
		frames: frames,
		index: 	make(map[uint64]int, cnt),
	}
}

// NewReadCache sizes the cache from the process-wide ReadCacheSize setting.
func (rt *Runtime) NewReadCache(f *File) *Cache {
	return CreateCache(f, CurrentConfig().ReadCacheSize)
}

// Pread satisfies a positional read from cached blocks, faulting misses in
// through the file. The result shape matches File.Read with an allocated
// buffer.
func (ch *Cache) Pread(t *Task, nbytes int, offset int64, timeout time.Duration) (ReadResult, error) {
	out := make([]byte, 0, nbytes)
	n := 0

	for n < nbytes {
		pos := offset + int64(n)
		blockId := uint64(pos) / c.BLOCK_SIZE
		within := int(uint64(pos) % c.BLOCK_SIZE)

		fr, eno := ch.load(t, blockId, timeout)
		if eno != 0 {
			if n == 0 {
				return ReadResult{RC: -1, Errno: eno, NewOffset: offset}, check("pread", -1, eno)
			}
			break
		}

		avail := fr.n - within
		if avail <= 0 {
			break // past EOF
		}
		take := min(avail, nbytes-n)
		out = append(out, fr.data[within:within+take]...)
		n += take

		if fr.n < c.BLOCK_SIZE {
			break // EOF block
		}
	}

	res := ReadResult{RC: n, Errno: 0, NewOffset: offset + int64(n)}
	if n > 0 {
		res.Data = out
	}
	return res, nil
}

// Invalidate forgets every cached block. Call after writing through the
// underlying file.
func (ch *Cache) Invalidate() {
	clear(ch.index)
	for i := range ch.frames {
		ch.frames[i].used = false
	}
}

func (ch *Cache) load(t *Task, blockId uint64, timeout time.Duration) (*frame, Errno) {
	ch.tick++

	if i, ok := ch.index[blockId]; ok {
		fr := &ch.frames[i]
		assert.Equal(fr.sum, xxhash.Sum64(fr.data[:fr.n]), "cached block corrupted")
		fr.tick = ch.tick
		return fr, 0
	}

	i := ch.victim()
	fr := &ch.frames[i]
	if fr.used {
		delete(ch.index, fr.blockId)
	}

	res, _ := ch.f.Read(t, c.BLOCK_SIZE, c.BlockIdToOffset(blockId), fr.data, timeout)
	if res.RC < 0 {
		fr.used = false
		return nil, res.Errno
	}

	fr.blockId = blockId
	fr.n = res.RC
	fr.sum = xxhash.Sum64(fr.data[:fr.n])
	fr.used = true
	fr.tick = ch.tick
	ch.index[blockId] = i
	return fr, 0
}

func (ch *Cache) victim() int {
	best := 0
	for i := range ch.frames {
		if !ch.frames[i].used {
			return i
		}
		if ch.frames[i].tick < ch.frames[best].tick {
			best = i
		}
	}
	return best
}
