package allocator

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/storage/diskmanager"
	"github.com/devrev/pagedb/internal/storage/page"
	"github.com/devrev/pagedb/internal/util"
	"go.uber.org/zap"
)

const (
	// FileHeaderSize is magic(4) + version(2) + reserved(2) + pageSize(4) + crc32(4)
	FileHeaderSize = 16

	fileMagic uint32 = 0x50474442 // "PGDB"
)

// DiskConfig configures a file-backed allocator
type DiskConfig struct {
	Config
	DataFile   string
	SyncWrites bool

	// Guard, when set, is consulted before the data file grows.
	Guard *diskmanager.Guard
}

// DiskAllocator stores pages in a single data file. Page n lives at
// FileHeaderSize + (n-1)*pageSize. The allocator must be the only writer of
// its file; commits are serialized and reads use positional I/O so they can
// run concurrently.
type DiskAllocator struct {
	version  int16
	pageSize int
	clock    util.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger
	guard    *diskmanager.Guard
	path     string
	sync     bool
	file     *os.File

	writeMu   sync.Mutex
	mu        sync.RWMutex
	committed []bool // index pageNumber-1
}

// NewDiskAllocator opens or creates the data file. An existing file must
// carry the same version and page size; its committed pages are restored.
func NewDiskAllocator(cfg *DiskConfig, logger *zap.Logger) (*DiskAllocator, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.InvalidArgument("invalid allocator config", err)
	}
	if cfg.DataFile == "" {
		return nil, errors.InvalidArgument("data file path is required", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNopMetrics()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DataFile), 0755); err != nil {
		return nil, errors.AllocationFailed("failed to create data directory", err)
	}
	file, err := os.OpenFile(cfg.DataFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.AllocationFailed("failed to open data file", err)
	}

	a := &DiskAllocator{
		version:  cfg.Version,
		pageSize: cfg.PageSize,
		clock:    cfg.Clock.OrSystem(),
		metrics:  m,
		logger:   logger,
		guard:    cfg.Guard,
		path:     cfg.DataFile,
		sync:     cfg.SyncWrites,
		file:     file,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.InternalError("failed to stat data file", err)
	}
	if info.Size() == 0 {
		err = a.writeFileHeader()
	} else {
		err = a.load(info.Size())
	}
	if err != nil {
		file.Close()
		return nil, err
	}

	logger.Info("Opened page data file",
		zap.String("path", a.path),
		zap.Int("page_size", a.pageSize),
		zap.Int16("version", a.version),
		zap.Int("pages", len(a.committed)))
	return a, nil
}

func (a *DiskAllocator) offset(pageNumber int32) int64 {
	return FileHeaderSize + int64(pageNumber-1)*int64(a.pageSize)
}

func (a *DiskAllocator) writeFileHeader() error {
	buf := make([]byte, FileHeaderSize-4)
	binary.LittleEndian.PutUint32(buf[0:4], fileMagic)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(a.version))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(a.pageSize))

	if _, err := a.file.WriteAt(util.AppendChecksum(buf), 0); err != nil {
		return errors.AllocationFailed("failed to write file header", err)
	}
	if err := a.file.Sync(); err != nil {
		return errors.AllocationFailed("failed to sync file header", err)
	}
	return nil
}

// load validates the file header and rebuilds the committed set from the
// page headers. A slot whose header carries page number 0 was allocated
// but never committed.
func (a *DiskAllocator) load(size int64) error {
	if size < FileHeaderSize {
		return errors.CorruptedData(fmt.Sprintf("data file %s shorter than its header", a.path), nil)
	}
	raw := make([]byte, FileHeaderSize)
	if _, err := a.file.ReadAt(raw, 0); err != nil {
		return errors.CorruptedData("failed to read file header", err)
	}
	hdr, ok := util.ValidateAndStripChecksum(raw)
	if !ok {
		return errors.CorruptedData(fmt.Sprintf("data file %s: header checksum mismatch", a.path), nil)
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:4]); magic != fileMagic {
		return errors.CorruptedData(fmt.Sprintf("data file %s: bad magic %#x", a.path, magic), nil)
	}
	if v := int16(binary.LittleEndian.Uint16(hdr[4:6])); v != a.version {
		return errors.InvalidArgument(fmt.Sprintf("data file version %d does not match configured %d", v, a.version), nil)
	}
	if ps := int(binary.LittleEndian.Uint32(hdr[8:12])); ps != a.pageSize {
		return errors.InvalidArgument(fmt.Sprintf("data file page size %d does not match configured %d", ps, a.pageSize), nil)
	}

	slots := int((size - FileHeaderSize) / int64(a.pageSize))
	a.committed = make([]bool, slots)
	buf := make([]byte, page.HeaderSize)
	for i := 0; i < slots; i++ {
		n := int32(i + 1)
		if _, err := a.file.ReadAt(buf, a.offset(n)); err != nil {
			return errors.CorruptedData(fmt.Sprintf("failed to read header of page %d", n), err)
		}
		h, err := page.DecodeHeader(buf)
		if err != nil {
			return err
		}
		a.committed[i] = h.PageNumber == n
	}
	return nil
}

func (a *DiskAllocator) NewPage() (*page.WritePage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.guard != nil {
		if err := a.guard.CheckBeforeGrow(uint64(a.pageSize)); err != nil {
			a.metrics.AllocationFailures.Inc()
			return nil, err
		}
	}

	n := int32(len(a.committed) + 1)
	if err := a.file.Truncate(a.offset(n) + int64(a.pageSize)); err != nil {
		a.metrics.AllocationFailures.Inc()
		return nil, errors.AllocationFailed(fmt.Sprintf("failed to grow data file for page %d", n), err)
	}
	a.committed = append(a.committed, false)
	a.metrics.PagesAllocatedTotal.Inc()

	return page.NewWritePage(a.version, n, a.pageSize, a.clock()), nil
}

func (a *DiskAllocator) Commit(p *page.WritePage) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	n := p.PageNumber()
	a.mu.RLock()
	known := n >= 1 && int(n) <= len(a.committed)
	done := known && a.committed[n-1]
	a.mu.RUnlock()

	if !known {
		return errors.NotFound("page", strconv.Itoa(int(n)))
	}
	if done || p.Sealed() {
		return errors.PageSealed(n)
	}
	if p.PageSize() != a.pageSize {
		return errors.InvalidArgument(fmt.Sprintf("page %d has size %d, allocator uses %d", n, p.PageSize(), a.pageSize), nil)
	}

	start := time.Now()
	if _, err := a.file.WriteAt(p.Encode(), a.offset(n)); err != nil {
		return errors.InternalError(fmt.Sprintf("failed to write page %d", n), err)
	}
	if a.sync {
		if err := a.file.Sync(); err != nil {
			return errors.InternalError(fmt.Sprintf("failed to sync page %d", n), err)
		}
	}
	p.Seal()

	a.mu.Lock()
	a.committed[n-1] = true
	a.mu.Unlock()

	a.metrics.PagesCommittedTotal.Inc()
	a.metrics.PageCommitDuration.Observe(time.Since(start).Seconds())
	a.logger.Debug("Page committed",
		zap.Int32("page_number", n),
		zap.Int("records", p.NoOfTuple()),
		zap.Int64("offset", a.offset(n)))
	return nil
}

func (a *DiskAllocator) ReadPage(pageNumber int32) (*page.ReadPage, error) {
	a.mu.RLock()
	ok := pageNumber >= 1 && int(pageNumber) <= len(a.committed) && a.committed[pageNumber-1]
	a.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("page", strconv.Itoa(int(pageNumber)))
	}

	buf := make([]byte, a.pageSize)
	if _, err := a.file.ReadAt(buf, a.offset(pageNumber)); err != nil {
		return nil, errors.InternalError(fmt.Sprintf("failed to read page %d", pageNumber), err)
	}
	rp, err := page.Decode(buf)
	if err != nil {
		return nil, err
	}
	if rp.PageNumber() != pageNumber {
		return nil, errors.CorruptedData(fmt.Sprintf("slot %d holds page %d", pageNumber, rp.PageNumber()), nil)
	}
	a.metrics.PageReadsTotal.Inc()
	return rp, nil
}

func (a *DiskAllocator) NoOfPages() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.committed)
}

func (a *DiskAllocator) PageSize() int  { return a.pageSize }
func (a *DiskAllocator) Version() int16 { return a.version }

// Path returns the data file location
func (a *DiskAllocator) Path() string { return a.path }

// Close syncs and closes the data file
func (a *DiskAllocator) Close() error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if err := a.file.Sync(); err != nil {
		a.file.Close()
		return fmt.Errorf("failed to sync data file: %w", err)
	}
	return a.file.Close()
}
