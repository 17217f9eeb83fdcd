package page

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/devrev/pagedb/internal/errors"
)

const (
	// HeaderSize is version(2) + pageNumber(4) + recordCount(4) + createdTime(8)
	HeaderSize = 18

	// SlotSize is one directory entry: offset(4) + length(4)
	SlotSize = 8
)

// Header is the fixed page prefix. All fields are little-endian on disk.
type Header struct {
	Version     int16
	PageNumber  int32
	RecordCount int32
	CreatedTime time.Time
}

func (h Header) encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(h.Version))
	binary.LittleEndian.PutUint32(buf[2:6], uint32(h.PageNumber))
	binary.LittleEndian.PutUint32(buf[6:10], uint32(h.RecordCount))
	binary.LittleEndian.PutUint64(buf[10:18], uint64(h.CreatedTime.UnixMilli()))
}

// DecodeHeader reads a page header from the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errors.CorruptedData(fmt.Sprintf("page header needs %d bytes, got %d", HeaderSize, len(buf)), nil)
	}
	return Header{
		Version:     int16(binary.LittleEndian.Uint16(buf[0:2])),
		PageNumber:  int32(binary.LittleEndian.Uint32(buf[2:6])),
		RecordCount: int32(binary.LittleEndian.Uint32(buf[6:10])),
		CreatedTime: time.UnixMilli(int64(binary.LittleEndian.Uint64(buf[10:18]))),
	}, nil
}

// Slot locates one record inside the page body.
type Slot struct {
	Offset int32
	Length int32
}

// WritePage is a page being filled. Records are appended in order and
// addressed by slot index; the directory grows by SlotSize per record.
type WritePage struct {
	header   Header
	pageSize int
	records  []byte
	slots    []Slot
	sealed   bool
}

// NewWritePage creates an empty page of pageSize bytes (header included).
func NewWritePage(version int16, pageNumber int32, pageSize int, created time.Time) *WritePage {
	return &WritePage{
		header: Header{
			Version:     version,
			PageNumber:  pageNumber,
			CreatedTime: created,
		},
		pageSize: pageSize,
	}
}

// Write appends a record and returns its slot index.
func (p *WritePage) Write(record []byte) (int, error) {
	if p.sealed {
		return 0, errors.PageSealed(p.header.PageNumber)
	}
	need := len(record) + SlotSize
	if need > p.Remaining() {
		return 0, errors.PageFull(p.header.PageNumber, need, p.Remaining())
	}

	p.slots = append(p.slots, Slot{Offset: int32(len(p.records)), Length: int32(len(record))})
	p.records = append(p.records, record...)
	p.header.RecordCount++
	return len(p.slots) - 1, nil
}

// Capacity is the body size: page size minus header.
func (p *WritePage) Capacity() int {
	return p.pageSize - HeaderSize
}

// Remaining is the number of body bytes still free, directory included.
func (p *WritePage) Remaining() int {
	return p.Capacity() - len(p.records) - len(p.slots)*SlotSize
}

func (p *WritePage) NoOfTuple() int { return len(p.slots) }
func (p *WritePage) PageNumber() int32 { return p.header.PageNumber }
func (p *WritePage) CreatedTime() time.Time { return p.header.CreatedTime }
func (p *WritePage) Version() int16 { return p.header.Version }
func (p *WritePage) Sealed() bool { return p.sealed }
func (p *WritePage) PageSize() int { return p.pageSize }

// RecordBytes returns the bytes of slot without copying.
func (p *WritePage) RecordBytes(slot int) []byte {
	s := p.slots[slot]
	return p.records[s.Offset : s.Offset+s.Length]
}

// Seal marks the page committed; further writes fail.
func (p *WritePage) Seal() {
	p.sealed = true
}

// Encode renders the full page image: header, directory, then records.
// Directory offsets are relative to the start of the body.
func (p *WritePage) Encode() []byte {
	buf := make([]byte, p.pageSize)
	p.header.encode(buf)

	body := buf[HeaderSize:]
	dirSize := len(p.slots) * SlotSize
	for i, s := range p.slots {
		binary.LittleEndian.PutUint32(body[i*SlotSize:], uint32(int32(dirSize)+s.Offset))
		binary.LittleEndian.PutUint32(body[i*SlotSize+4:], uint32(s.Length))
	}
	copy(body[dirSize:], p.records)
	return buf
}

// ReadPage is an immutable view over a committed page.
type ReadPage struct {
	header Header
	body   []byte
	slots  []Slot
	cursor int
}

// View builds a ReadPage over a write page without serializing it. The
// record bytes are copied so the view stays valid after the write page is
// discarded.
func (p *WritePage) View() *ReadPage {
	body := make([]byte, len(p.records))
	copy(body, p.records)
	slots := make([]Slot, len(p.slots))
	copy(slots, p.slots)
	return &ReadPage{header: p.header, body: body, slots: slots}
}

// Decode parses a page image produced by Encode.
func Decode(buf []byte) (*ReadPage, error) {
	header, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	body := buf[HeaderSize:]
	n := int(header.RecordCount)
	if n < 0 || n*SlotSize > len(body) {
		return nil, errors.CorruptedData(fmt.Sprintf("page %d: record count %d exceeds body", header.PageNumber, n), nil)
	}

	slots := make([]Slot, n)
	for i := 0; i < n; i++ {
		s := Slot{
			Offset: int32(binary.LittleEndian.Uint32(body[i*SlotSize:])),
			Length: int32(binary.LittleEndian.Uint32(body[i*SlotSize+4:])),
		}
		if s.Offset < 0 || s.Length < 0 || int(s.Offset)+int(s.Length) > len(body) {
			return nil, errors.CorruptedData(fmt.Sprintf("page %d: slot %d out of bounds", header.PageNumber, i), nil)
		}
		slots[i] = s
	}

	return &ReadPage{header: header, body: body, slots: slots}, nil
}

func (p *ReadPage) Version() int16 { return p.header.Version }
func (p *ReadPage) PageNumber() int32 { return p.header.PageNumber }
func (p *ReadPage) TotalRecords() int { return len(p.slots) }
func (p *ReadPage) CreatedTime() time.Time { return p.header.CreatedTime }

// Record copies the bytes of slot into out and returns the length written.
func (p *ReadPage) Record(slot int, out []byte) (int, error) {
	if slot < 0 || slot >= len(p.slots) {
		return 0, errors.NotFound("slot", fmt.Sprintf("%d/%d", p.header.PageNumber, slot))
	}
	s := p.slots[slot]
	if int(s.Length) > len(out) {
		return 0, io.ErrShortBuffer
	}
	return copy(out, p.body[s.Offset:s.Offset+s.Length]), nil
}

// Bytes returns a copy of the record at slot.
func (p *ReadPage) Bytes(slot int) ([]byte, error) {
	if slot < 0 || slot >= len(p.slots) {
		return nil, errors.NotFound("slot", fmt.Sprintf("%d/%d", p.header.PageNumber, slot))
	}
	out := make([]byte, p.slots[slot].Length)
	_, err := p.Record(slot, out)
	return out, err
}

// HasNext reports whether Next has another record to return.
func (p *ReadPage) HasNext() bool {
	return p.cursor < len(p.slots)
}

// Next copies the next record in insertion order into out.
func (p *ReadPage) Next(out []byte) (int, error) {
	if !p.HasNext() {
		return 0, io.EOF
	}
	n, err := p.Record(p.cursor, out)
	if err != nil {
		return 0, err
	}
	p.cursor++
	return n, nil
}

// Reset rewinds iteration to the first slot.
func (p *ReadPage) Reset() {
	p.cursor = 0
}

// Clone returns a view sharing the record bytes with its own cursor.
func (p *ReadPage) Clone() *ReadPage {
	c := *p
	c.cursor = 0
	return &c
}
