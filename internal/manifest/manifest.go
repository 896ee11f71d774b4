package manifest

import (
	"io"
	"strings"

	"github.com/kvlite/kvlite/internal/base"
	"github.com/kvlite/kvlite/internal/record"
	"github.com/kvlite/kvlite/internal/vfs"
)

// rotationThreshold is the manifest log size, in bytes of encoded version
// edits, at which Manifest starts a fresh MANIFEST file seeded with a
// single snapshot edit instead of continuing to append.
const rotationThreshold = 4 << 20

// ComparatorName identifies the key ordering the manifest was written
// under; a manifest recovered under a different comparator is corrupt by
// construction, since its level invariants would no longer hold.
const ComparatorName = "kvlite.bytewise"

// RecoveredState is everything Open reconstructs by replaying a manifest.
type RecoveredState struct {
	Version         *Version
	LogNumber       uint64
	NextFileNumber  uint64
	LastSequence    base.SeqNum
	ManifestFileNum uint64
}

// Manifest is the durable, append-only log of VersionEdits that records
// the table tree's history. It wraps internal/record the same way
// internal/wal does.
type Manifest struct {
	fs      vfs.FS
	dir     string
	file    vfs.File
	w       *record.Writer
	fileNum uint64
	written int64
}

func currentPath(fs vfs.FS, dir string) string {
	return fs.PathJoin(dir, base.MakeFilename(base.FileTypeCurrent, 0))
}

func readCurrent(fs vfs.FS, dir string) (num uint64, ok bool, err error) {
	name := currentPath(fs, dir)
	if !fs.Exist(name) {
		return 0, false, nil
	}
	f, err := fs.Open(name)
	if err != nil {
		return 0, false, base.MarkIo(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, false, base.MarkIo(err)
	}
	_, parsedNum, parsedOK := base.ParseFilename(strings.TrimSpace(string(data)))
	if !parsedOK {
		return 0, false, base.MarkCorrupt(nil, "manifest: malformed CURRENT file %q", string(data))
	}
	return parsedNum, true, nil
}

// setCurrent atomically repoints CURRENT at the manifest numbered
// fileNum, via a temp file plus rename.
func setCurrent(fs vfs.FS, dir string, fileNum uint64) error {
	tmpName := fs.PathJoin(dir, base.MakeFilename(base.FileTypeTemp, fileNum))
	f, err := fs.Create(tmpName)
	if err != nil {
		return base.MarkIo(err)
	}
	if _, err := f.Write([]byte(base.MakeFilename(base.FileTypeManifest, fileNum) + "\n")); err != nil {
		f.Close()
		return base.MarkIo(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return base.MarkIo(err)
	}
	if err := f.Close(); err != nil {
		return base.MarkIo(err)
	}
	return base.MarkIo(fs.Rename(tmpName, currentPath(fs, dir)))
}

// Open recovers the manifest in dir, bootstrapping a fresh one if none
// exists, and returns a Manifest ready to append further edits.
func Open(fs vfs.FS, dir string, cmp base.Compare) (*Manifest, *RecoveredState, error) {
	num, ok, err := readCurrent(fs, dir)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return bootstrap(fs, dir)
	}

	name := fs.PathJoin(dir, base.MakeFilename(base.FileTypeManifest, num))
	rf, err := fs.Open(name)
	if err != nil {
		return nil, nil, base.MarkIo(err)
	}
	r, err := record.NewReader(rf)
	if err != nil {
		rf.Close()
		return nil, nil, base.MarkIo(err)
	}

	state := &RecoveredState{Version: NewVersion(), ManifestFileNum: num}
	for {
		payload, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			rf.Close()
			return nil, nil, base.MarkIo(err)
		}
		edit, err := DecodeVersionEdit(payload)
		if err != nil {
			rf.Close()
			return nil, nil, err
		}
		state.Version = state.Version.Apply(edit, cmp)
		if edit.HasLogNumber {
			state.LogNumber = edit.LogNumber
		}
		if edit.HasNextFileNumber {
			state.NextFileNumber = edit.NextFileNumber
		}
		if edit.HasLastSequence {
			state.LastSequence = edit.LastSequence
		}
	}
	rf.Close()

	rw, err := fs.OpenReadWrite(name)
	if err != nil {
		return nil, nil, base.MarkIo(err)
	}
	size, err := rw.Size()
	if err != nil {
		rw.Close()
		return nil, nil, base.MarkIo(err)
	}
	m := &Manifest{fs: fs, dir: dir, file: rw, w: record.NewWriter(rw, size), fileNum: num, written: size}
	return m, state, nil
}

func bootstrap(fs vfs.FS, dir string) (*Manifest, *RecoveredState, error) {
	if err := fs.MkdirAll(dir); err != nil {
		return nil, nil, base.MarkIo(err)
	}
	name := fs.PathJoin(dir, base.MakeFilename(base.FileTypeManifest, 1))
	f, err := fs.Create(name)
	if err != nil {
		return nil, nil, base.MarkIo(err)
	}
	m := &Manifest{fs: fs, dir: dir, file: f, w: record.NewWriter(f, 0), fileNum: 1}

	edit := &VersionEdit{
		ComparatorName:    ComparatorName,
		HasNextFileNumber: true,
		NextFileNumber:    2,
		HasLastSequence:   true,
		LastSequence:      base.SeqNumZero,
	}
	if err := m.logEdit(edit); err != nil {
		return nil, nil, err
	}
	if err := setCurrent(fs, dir, 1); err != nil {
		return nil, nil, err
	}

	state := &RecoveredState{
		Version:         NewVersion(),
		NextFileNumber:  2,
		LastSequence:    base.SeqNumZero,
		ManifestFileNum: 1,
	}
	return m, state, nil
}

func (m *Manifest) logEdit(edit *VersionEdit) error {
	payload := edit.Encode()
	if err := m.w.WriteRecord(payload); err != nil {
		return base.MarkIo(err)
	}
	if err := m.w.Sync(); err != nil {
		return base.MarkIo(err)
	}
	m.written += int64(len(payload))
	return nil
}

// LogAndApply durably appends edit to the manifest log and returns the
// Version that results from applying it to cur. If the log has grown
// past rotationThreshold it starts a fresh MANIFEST file seeded with a
// snapshot of the resulting Version, so replay cost stays bounded.
func (m *Manifest) LogAndApply(edit *VersionEdit, cur *Version, cmp base.Compare, allocFileNum func() uint64) (*Version, error) {
	if err := m.logEdit(edit); err != nil {
		return nil, err
	}
	next := cur.Apply(edit, cmp)

	if m.written >= rotationThreshold {
		if err := m.rotate(next, edit, allocFileNum()); err != nil {
			return next, err
		}
	}
	return next, nil
}

// rotate starts a new manifest file, writes a single snapshot edit
// describing v in full, repoints CURRENT at it, and retires the old file.
func (m *Manifest) rotate(v *Version, last *VersionEdit, newFileNum uint64) error {
	name := m.fs.PathJoin(m.dir, base.MakeFilename(base.FileTypeManifest, newFileNum))
	f, err := m.fs.Create(name)
	if err != nil {
		return base.MarkIo(err)
	}

	snapshot := &VersionEdit{
		ComparatorName:    ComparatorName,
		HasLogNumber:      last.HasLogNumber,
		LogNumber:         last.LogNumber,
		HasNextFileNumber: true,
		NextFileNumber:    newFileNum + 1,
		HasLastSequence:   last.HasLastSequence,
		LastSequence:      last.LastSequence,
	}
	for level := 0; level < NumLevels; level++ {
		for _, t := range v.Levels[level] {
			snapshot.AddedTables = append(snapshot.AddedTables, AddedTable{Level: level, Meta: t})
		}
	}

	newManifest := &Manifest{fs: m.fs, dir: m.dir, file: f, w: record.NewWriter(f, 0), fileNum: newFileNum}
	if err := newManifest.logEdit(snapshot); err != nil {
		f.Close()
		return err
	}
	if err := setCurrent(m.fs, m.dir, newFileNum); err != nil {
		f.Close()
		return err
	}

	oldName := m.fs.PathJoin(m.dir, base.MakeFilename(base.FileTypeManifest, m.fileNum))
	oldFile := m.file
	*m = *newManifest
	oldFile.Close()
	return base.MarkIo(m.fs.Remove(oldName))
}

// Close closes the manifest's underlying file.
func (m *Manifest) Close() error { return m.file.Close() }
