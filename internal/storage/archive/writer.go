package archive

import (
	"encoding/binary"
	"fmt"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/storage/allocator"
	"github.com/devrev/pagedb/internal/storage/page"
	"github.com/devrev/pagedb/internal/util"
	"go.uber.org/zap"
)

// Record framing inside a page slot:
//
//	keyLen uint16 | key | crc32(key+value) uint32 | value
const (
	keyLenSize   = 2
	checksumSize = 4
	maxKeyLen    = 1<<16 - 1
)

// Writer packs key/value records into allocator pages. When a record does
// not fit, the current page is committed and a fresh one allocated.
type Writer struct {
	alloc   allocator.PageAllocator
	logger  *zap.Logger
	current *page.WritePage
	pages   []int32
	records int
}

// NewWriter creates a writer appending to alloc
func NewWriter(alloc allocator.PageAllocator, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{alloc: alloc, logger: logger}
}

func encodeRecord(key string, value []byte) []byte {
	buf := make([]byte, keyLenSize+len(key)+checksumSize+len(value))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(key)))
	copy(buf[2:], key)

	off := keyLenSize + len(key)
	copy(buf[off+checksumSize:], value)

	sum := util.ComputeChecksum(append([]byte(key), value...))
	binary.LittleEndian.PutUint32(buf[off:off+checksumSize], sum)
	return buf
}

// Write appends one record
func (w *Writer) Write(key string, value []byte) error {
	if len(key) > maxKeyLen {
		return errors.InvalidArgument(fmt.Sprintf("key of %d bytes exceeds %d", len(key), maxKeyLen), nil)
	}
	rec := encodeRecord(key, value)
	if limit := w.alloc.PageSize() - page.HeaderSize - page.SlotSize; len(rec) > limit {
		return errors.InvalidArgument(fmt.Sprintf("record for key %q needs %d bytes, page holds at most %d", key, len(rec), limit), nil)
	}

	if w.current == nil {
		if err := w.nextPage(); err != nil {
			return err
		}
	}

	_, err := w.current.Write(rec)
	if errors.IsCode(err, errors.ErrCodePageFull) {
		if err := w.flush(); err != nil {
			return err
		}
		if err := w.nextPage(); err != nil {
			return err
		}
		_, err = w.current.Write(rec)
	}
	if err != nil {
		return err
	}
	w.records++
	return nil
}

func (w *Writer) nextPage() error {
	p, err := w.alloc.NewPage()
	if err != nil {
		return fmt.Errorf("failed to allocate archive page: %w", err)
	}
	w.current = p
	return nil
}

func (w *Writer) flush() error {
	if err := w.alloc.Commit(w.current); err != nil {
		return fmt.Errorf("failed to commit archive page %d: %w", w.current.PageNumber(), err)
	}
	w.pages = append(w.pages, w.current.PageNumber())
	w.logger.Debug("Archive page committed",
		zap.Int32("page_number", w.current.PageNumber()),
		zap.Int("records", w.current.NoOfTuple()))
	w.current = nil
	return nil
}

// Close commits the last page and returns every page number written, in
// write order.
func (w *Writer) Close() ([]int32, error) {
	if w.current != nil {
		if err := w.flush(); err != nil {
			return nil, err
		}
	}
	return w.pages, nil
}

// Allocated returns the committed pages followed by the page still open,
// if any. After a failed Write these pages hold no complete segment.
func (w *Writer) Allocated() []int32 {
	out := append([]int32{}, w.pages...)
	if w.current != nil {
		out = append(out, w.current.PageNumber())
	}
	return out
}

// Records returns the number of records written so far
func (w *Writer) Records() int { return w.records }
