// Package splitstate implements the range-splitting formula, the in-memory
// SplitState owned by a multi-block download, and its on-disk checkpoint
// encoding. The algorithms are ported directly from
// original_source/pygetex/utils/misc.py (get_divisional_range,
// get_unfinished_range, get_remain_bytes); the atomic-cursor block shape
// follows internal/engine/concurrent/task.go's ActiveTask in the teacher.
package splitstate

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
)

// Block is one contiguous byte range of a download. Cursor is the next
// unwritten offset; once Cursor > End the block is finished. A block's
// worker goroutine is the sole writer of Cursor; every other reader (the
// sampler, a checkpoint save) only loads it.
type Block struct {
	Start int64
	End   int64 // inclusive; -1 means "unknown, extends to EOF" (single unsized block only)
	cur   atomic.Int64
}

// NewBlock returns a Block with its cursor initialized to start.
func NewBlock(start, end int64) *Block {
	b := &Block{Start: start, End: end}
	b.cur.Store(start)
	return b
}

// Cursor returns the next unwritten offset.
func (b *Block) Cursor() int64 { return b.cur.Load() }

// Advance moves the cursor forward by n bytes after a successful write.
func (b *Block) Advance(n int64) int64 { return b.cur.Add(n) }

// SetCursor restores a cursor to a specific offset, used when loading a
// checkpoint.
func (b *Block) SetCursor(c int64) { b.cur.Store(c) }

// Done reports whether this block has written its whole range. A block
// with unknown End (-1) is only done when explicitly marked via Finish.
func (b *Block) Done() bool {
	if b.End < 0 {
		return false
	}
	return b.cur.Load() > b.End
}

// Finish forces a block to be considered complete. A block with a known End
// has its cursor moved to End+1; a block with unknown End (the unknown-size
// single-block path, once the body stream reaches EOF) has its End set to
// the last written offset.
func (b *Block) Finish() {
	if b.End < 0 {
		b.End = b.cur.Load() - 1
		return
	}
	b.cur.Store(b.End + 1)
}

// SplitState is the set of blocks a multi-block download writes concurrently.
type SplitState struct {
	Blocks []*Block
}

// DivisionalRange splits [0, fileSize) into n blocks using the same
// algorithm as pygetex's get_divisional_range: step = fileSize / n, blocks
// [i*step, (i+1)*step-1] for i in [0, n-2], and the final block absorbing
// the remainder, [(n-1)*step, fileSize-1].
func DivisionalRange(fileSize int64, n int) *SplitState {
	if n < 1 {
		n = 1
	}
	if fileSize <= 0 {
		n = 1
	}
	step := fileSize / int64(n)
	if step <= 0 {
		n = 1
		step = fileSize
	}
	blocks := make([]*Block, 0, n)
	for i := 0; i < n-1; i++ {
		start := int64(i) * step
		end := start + step - 1
		blocks = append(blocks, NewBlock(start, end))
	}
	start := int64(n-1) * step
	blocks = append(blocks, NewBlock(start, fileSize-1))
	return &SplitState{Blocks: blocks}
}

// SingleUnsized returns a one-block SplitState for a download whose total
// size is not known in advance; its End is -1 until Finish is called on the
// block once the stream is exhausted.
func SingleUnsized() *SplitState {
	return &SplitState{Blocks: []*Block{NewBlock(0, -1)}}
}

// UnfinishedBlocks returns the blocks that still have bytes left to write,
// ported from get_unfinished_range (blocks where cursor <= end).
func (s *SplitState) UnfinishedBlocks() []*Block {
	var out []*Block
	for _, b := range s.Blocks {
		if b.End < 0 || b.Cursor() <= b.End {
			out = append(out, b)
		}
	}
	return out
}

// AllDone reports whether every block has finished.
func (s *SplitState) AllDone() bool {
	for _, b := range s.Blocks {
		if !b.Done() {
			return false
		}
	}
	return true
}

// RemainBytes sums the remaining bytes across all blocks. A single block
// with unknown end (End == -1) reports math.MaxInt64 - cursor, the Go
// analogue of pygetex's sys.maxsize - cursor; this combination is only
// valid for a single-block SplitState, matching get_remain_bytes raising on
// multi-block + unknown size.
func (s *SplitState) RemainBytes() int64 {
	var total int64
	for _, b := range s.Blocks {
		if b.End < 0 {
			total += math.MaxInt64 - b.Cursor()
			continue
		}
		remain := b.End - b.Cursor() + 1
		if remain > 0 {
			total += remain
		}
	}
	return total
}

// --- checkpoint encoding ---
//
// One line per unfinished block: "<start> <cursor> <end>\n". This is the
// stable textual format called for by the design notes, replacing
// pygetex's pickle.dump(get_unfinished_range(result), f). Written via a
// tmp-file-in-the-same-directory + os.Rename so a crash never leaves a
// partially-written checkpoint behind.

// Save atomically writes the unfinished-block checkpoint to path.
func (s *SplitState) Save(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create checkpoint tmp: %w", err)
	}
	tmpName := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, b := range s.UnfinishedBlocks() {
		if _, err := fmt.Fprintf(w, "%d %d %d\n", b.Start, b.Cursor(), b.End); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// ErrCheckpointCorrupt is returned by Load when the checkpoint file can't
// be parsed as the stable textual format.
var ErrCheckpointCorrupt = fmt.Errorf("checkpoint file is corrupt")

// Load reads a checkpoint written by Save back into a SplitState.
func Load(path string) (*SplitState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var blocks []*Block
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, ErrCheckpointCorrupt
		}
		start, err1 := strconv.ParseInt(fields[0], 10, 64)
		cursor, err2 := strconv.ParseInt(fields[1], 10, 64)
		end, err3 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, ErrCheckpointCorrupt
		}
		b := NewBlock(start, end)
		b.SetCursor(cursor)
		blocks = append(blocks, b)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
	}
	if len(blocks) == 0 {
		return nil, ErrCheckpointCorrupt
	}
	return &SplitState{Blocks: blocks}, nil
}
