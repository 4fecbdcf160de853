package pak

import (
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/meigma/pak/byterange"
	"github.com/meigma/pak/compression"
)

// source says where a path was served from.
type source int

const (
	fromNone source = iota
	fromLoose
	fromArchive
)

// resolution is the outcome of applying the conflict policy to one path.
type resolution struct {
	name   string
	from   source
	mount  Mountable
	info   compression.Info
	policy compression.ConflictResolution
}

// cleanPath normalizes an asset path to slash-separated, root-relative form.
func cleanPath(op, name string) (string, error) {
	p := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if p == "" || !fs.ValidPath(p) {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	return p, nil
}

// resolve picks the archive copy or the loose copy of name.
//
// An archive hit with PreferFile yields to an existing loose file;
// PreferArchive and UseArchiveOnly keep the archive copy. Paths held by no
// archive are served loose unless the default policy is UseArchiveOnly.
func (s *Streamer) resolve(name string) resolution {
	r := resolution{name: name, policy: s.defaultPolicy}
	res, ok := s.resolver.Resolve(name)
	if ok {
		if m, isMount := res.Provider.(Mountable); isMount {
			r.mount, r.info, r.policy = m, res.Info, res.Info.ConflictResolution
		} else {
			ok = false
		}
	}

	switch {
	case ok && r.policy == compression.PreferFile && s.looseExists(name):
		r.from = fromLoose
	case ok:
		r.from = fromArchive
	case r.policy != compression.UseArchiveOnly && s.looseExists(name):
		r.from = fromLoose
	}
	return r
}

func (s *Streamer) looseExists(name string) bool {
	if s.loose == nil {
		return false
	}
	fi, err := s.loose.Stat(name)
	return err == nil && fi.Mode().IsRegular()
}

// ReadFile returns the decoded content of name.
func (s *Streamer) ReadFile(name string) ([]byte, error) {
	p, err := cleanPath("readfile", name)
	if err != nil {
		return nil, err
	}
	r := s.resolve(p)
	switch r.from {
	case fromArchive:
		s.log().Debug("read from archive", "path", p, "archive", r.info.ArchivePath, "codec", r.info.Tag.String())
		return r.mount.ReadFile(r.info.RelativePath)
	case fromLoose:
		s.log().Debug("read loose file", "path", p)
		data, err := s.loose.ReadFile(p)
		if err != nil {
			return nil, &fs.PathError{Op: "readfile", Path: name, Err: unwrapPathErr(err)}
		}
		return data, nil
	default:
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
}

// ReadRange returns the bytes of rng within name's decoded content,
// clamped to the file size.
func (s *Streamer) ReadRange(name string, rng byterange.Range) ([]byte, error) {
	p, err := cleanPath("readrange", name)
	if err != nil {
		return nil, err
	}
	r := s.resolve(p)
	switch r.from {
	case fromArchive:
		return r.mount.ReadRange(r.info.RelativePath, rng)
	case fromLoose:
		data, err := s.readLooseRange(p, rng)
		if err != nil {
			return nil, &fs.PathError{Op: "readrange", Path: name, Err: unwrapPathErr(err)}
		}
		return data, nil
	default:
		return nil, &fs.PathError{Op: "readrange", Path: name, Err: fs.ErrNotExist}
	}
}

func (s *Streamer) readLooseRange(name string, rng byterange.Range) ([]byte, error) {
	f, err := s.loose.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	rng = rng.Clamp(uint64(fi.Size())) //nolint:gosec // file sizes are non-negative
	buf := make([]byte, rng.Size())
	n, err := f.ReadAt(buf, int64(rng.Offset())) //nolint:gosec // clamped to file size
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, err
	}
	return buf, nil
}

// Stat returns file info for name from the copy the conflict policy selects.
func (s *Streamer) Stat(name string) (fs.FileInfo, error) {
	p, err := cleanPath("stat", name)
	if err != nil {
		return nil, err
	}
	r := s.resolve(p)
	switch r.from {
	case fromArchive:
		return r.mount.Stat(r.info.RelativePath)
	case fromLoose:
		return s.loose.Stat(p)
	default:
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
}

// CompressionInfo reports how name is stored when an archive serves it.
// It returns false when the path is served loose or not at all.
func (s *Streamer) CompressionInfo(name string) (compression.Info, bool) {
	p, err := cleanPath("stat", name)
	if err != nil {
		return compression.Info{}, false
	}
	r := s.resolve(p)
	if r.from != fromArchive {
		return compression.Info{}, false
	}
	return r.info, true
}

// Exists reports whether name can be read.
func (s *Streamer) Exists(name string) bool {
	p, err := cleanPath("stat", name)
	if err != nil {
		return false
	}
	return s.resolve(p).from != fromNone
}

func unwrapPathErr(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}
