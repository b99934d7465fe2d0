// Package container extracts the AndroidManifest.xml entry (or any
// other member) out of an APK, which is a ZIP archive. It tolerates the
// crafted/broken archives Android's own ZIP reader accepts but
// archive/zip rejects: entries it can't resolve through the central
// directory are recovered by scanning for local file headers directly,
// adapted from the teacher's zipreader.go.
package container

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path"
	"sync"

	"github.com/klauspost/compress/flate"
)

// maxEntrySize bounds a single ReadFile call; callers that need more
// should use Entry/Open directly and stream it themselves.
const maxEntrySize = 512 << 20

type entryLocation struct {
	offset int64
	method uint16
}

// Archive mimics archive/zip.Reader closely enough for AXML extraction,
// but additionally recovers entries a strict zip.Reader would refuse.
type Archive struct {
	Entries map[string]*Entry

	// EntriesOrdered lists entries in the order their headers were
	// found. The same Entry may appear more than once for a crafted
	// archive with duplicate names.
	EntriesOrdered []*Entry

	reader     io.ReadSeeker
	ownedFile  *os.File
}

// Entry mimics archive/zip.File; it may fold more than one raw zip
// entry under one Name when an archive has duplicates (Android reads
// the last one that wins, which this type lets a caller reproduce).
type Entry struct {
	Name  string
	IsDir bool

	zipFile        io.ReadSeeker
	internalReader io.Reader
	internalCloser io.Closer

	zipEntry *zip.File

	locations []entryLocation
	cur       int
}

// Open prepares the entry for reading via Read/Next.
func (e *Entry) Open() error {
	if e.internalReader != nil {
		return errors.New("container: entry is already open")
	}

	if e.zipEntry != nil {
		e.cur = 0
		rc, err := e.zipEntry.Open()
		if err != nil {
			return err
		}
		e.internalReader = rc
		e.internalCloser = rc
	} else {
		e.cur = -1
	}
	return nil
}

// Read reads from the current underlying raw entry; io.EOF means that
// occurrence ended, not necessarily the whole Entry — call Next.
func (e *Entry) Read(p []byte) (int, error) {
	if e.internalReader == nil {
		if e.cur == -1 && !e.Next() {
			return 0, io.ErrUnexpectedEOF
		}
		if e.cur >= len(e.locations) {
			return 0, io.ErrUnexpectedEOF
		}

		loc := e.locations[e.cur]
		if _, err := e.zipFile.Seek(loc.offset, io.SeekStart); err != nil {
			return 0, err
		}

		switch loc.method {
		case zip.Store:
			e.internalReader = e.zipFile
		default: // Android treats every method but Store as deflate.
			rc := flate.NewReader(e.zipFile)
			e.internalReader = rc
			e.internalCloser = rc
		}
	}
	return e.internalReader.Read(p)
}

// Next advances to the entry's next raw occurrence. Returns false when
// there are no more.
func (e *Entry) Next() bool {
	if len(e.locations) == 0 && e.internalReader != nil {
		e.cur++
		return e.cur == 1
	}

	e.Close()

	if e.cur+1 >= len(e.locations) {
		return false
	}
	e.cur++
	return true
}

// Close releases the current raw occurrence's decompressor, if any.
func (e *Entry) Close() error {
	if e.internalReader != nil {
		if e.internalCloser != nil {
			e.internalCloser.Close()
			e.internalCloser = nil
		}
		e.internalReader = nil
	}
	return nil
}

// ZipHeader returns the archive/zip header behind this entry, or nil
// when it was recovered by header-scan instead of the central directory.
func (e *Entry) ZipHeader() *zip.FileHeader {
	if e.zipEntry != nil {
		return &e.zipEntry.FileHeader
	}
	return nil
}

// ReadAll opens, reads up to limit bytes of the first occurrence that
// decompresses cleanly, and closes the entry.
func (e *Entry) ReadAll(limit int64) ([]byte, error) {
	if err := e.Open(); err != nil {
		return nil, err
	}
	defer e.Close()

	var data []byte
	var lastErr error
	for e.Next() {
		data, lastErr = ioutil.ReadAll(io.LimitReader(e, limit))
		if lastErr == nil {
			return data, nil
		}
	}
	if lastErr == nil {
		return nil, io.ErrUnexpectedEOF
	}
	return nil, lastErr
}

// Close closes the archive and every entry still open under it.
func (a *Archive) Close() error {
	if a.reader == nil {
		return nil
	}
	for _, e := range a.Entries {
		e.Close()
	}
	var err error
	if a.ownedFile != nil {
		err = a.ownedFile.Close()
		a.ownedFile = nil
	}
	a.reader = nil
	return err
}

// ReadFile is the convenience path ParseTree callers want: extract name
// whole, ready to hand to axml.ParseTree, bounded by maxEntrySize.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	e := a.Entries[path.Clean(name)]
	if e == nil {
		return nil, fmt.Errorf("container: %s: %w", name, os.ErrNotExist)
	}
	return e.ReadAll(maxEntrySize)
}

type readAtWrapper struct {
	io.ReadSeeker
}

func (w *readAtWrapper) ReadAt(b []byte, off int64) (n int, err error) {
	if ra, ok := w.ReadSeeker.(io.ReaderAt); ok {
		return ra.ReadAt(b, off)
	}

	oldpos, err := w.Seek(off, io.SeekCurrent)
	if err != nil {
		return
	}
	if _, err = w.Seek(off, io.SeekStart); err != nil {
		return
	}
	if n, err = w.Read(b); err != nil {
		return
	}
	_, err = w.Seek(oldpos, io.SeekStart)
	return
}

// Open opens the named file as an APK/ZIP archive.
func Open(name string) (*Archive, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	a, err := OpenReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	a.ownedFile = f
	return a, nil
}

// OpenReader opens an archive already held in memory or on disk. It may
// Seek r to arbitrary positions.
func OpenReader(r io.ReadSeeker) (*Archive, error) {
	a := &Archive{
		Entries: make(map[string]*Entry),
		reader:  r,
	}

	f := &readAtWrapper{r}

	if zr, err := tryReadZip(f); err == nil {
		for i, zf := range zr.File {
			if zf.Method != zip.Store && zf.Method != zip.Deflate {
				switch zf.Name {
				case "AndroidManifest.xml", "resources.arsc":
					zr.File[i].Method = zip.Store
					zr.File[i].CompressedSize64 = zr.File[i].UncompressedSize64
				default:
					zr.File[i].Method = zip.Deflate
				}
			}

			cl := path.Clean(zf.Name)
			if a.Entries[cl] == nil {
				e := &Entry{Name: cl, IsDir: zf.FileInfo().IsDir(), zipFile: f, zipEntry: zf}
				a.Entries[cl] = e
				a.EntriesOrdered = append(a.EntriesOrdered, e)
			}
		}
		return a, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return a, scanLocalHeaders(a, f)
}

func scanLocalHeaders(a *Archive, f *readAtWrapper) error {
	for {
		off, err := findNextFileHeader(f)
		if off == -1 || err != nil {
			return err
		}

		var nameLen, extraLen, method uint16
		if _, err := f.Seek(off+8, io.SeekStart); err != nil {
			return err
		}
		if err := binary.Read(f, binary.LittleEndian, &method); err != nil {
			return err
		}
		if _, err := f.Seek(off+26, io.SeekStart); err != nil {
			return err
		}
		if err := binary.Read(f, binary.LittleEndian, &nameLen); err != nil {
			return err
		}
		if err := binary.Read(f, binary.LittleEndian, &extraLen); err != nil {
			return err
		}

		buf := make([]byte, nameLen)
		if _, err := f.ReadAt(buf, off+30); err != nil {
			return err
		}

		name := path.Clean(string(buf))
		dataOffset := off + 30 + int64(nameLen) + int64(extraLen)

		e := a.Entries[name]
		if e == nil {
			e = &Entry{Name: name, zipFile: f, cur: -1}
			a.Entries[name] = e
		}
		a.EntriesOrdered = append(a.EntriesOrdered, e)

		// Local headers are found forward but Android resolves
		// duplicate names to the last successfully-read one, so new
		// locations go to the front.
		e.locations = append([]entryLocation{{offset: dataOffset, method: method}}, e.locations...)

		if _, err := f.Seek(off+4, io.SeekStart); err != nil {
			return err
		}
	}
}

func tryReadZip(f *readAtWrapper) (r *zip.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%v", p)
			r = nil
		}
	}()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	r, err = zip.NewReader(f, size)
	if err != nil {
		return nil, err
	}
	r.RegisterDecompressor(zip.Deflate, newFlateReader)
	return r, nil
}

func findNextFileHeader(f io.ReadSeeker) (int64, error) {
	start, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1, err
	}
	var retErr error
	defer func() {
		if _, serr := f.Seek(start, io.SeekStart); serr != nil && retErr == nil {
			retErr = serr
		}
	}()

	sig := []byte{0x50, 0x4B, 0x03, 0x04}
	buf := make([]byte, 64*1024)
	matched := 0
	offset := start

	for {
		n, err := f.Read(buf)
		if err != nil && err != io.EOF {
			retErr = err
			return -1, retErr
		}
		if n == 0 {
			return -1, retErr
		}

		for i := 0; i < n; i++ {
			if buf[i] == sig[matched] {
				matched++
				if matched == len(sig) {
					found := offset + int64(i) - int64(len(sig)-1)
					return found, retErr
				}
			} else {
				matched = 0
			}
		}
		offset += int64(n)
	}
}

var flateReaderPool sync.Pool

func newFlateReader(r io.Reader) io.ReadCloser {
	if fr, ok := flateReaderPool.Get().(io.ReadCloser); ok {
		fr.(flate.Resetter).Reset(r, nil)
		return &pooledFlateReader{fr: fr}
	}
	return &pooledFlateReader{fr: flate.NewReader(r)}
}

type pooledFlateReader struct {
	mu sync.Mutex
	fr io.ReadCloser
}

func (r *pooledFlateReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return 0, errors.New("container: read after close")
	}
	return r.fr.Read(p)
}

func (r *pooledFlateReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.fr != nil {
		err = r.fr.Close()
		flateReaderPool.Put(r.fr)
		r.fr = nil
	}
	return err
}
