package archive

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/meigma/pak/compression"
)

// DefaultMaxFiles is the default limit used when no CreateWithMaxFiles option is set.
const DefaultMaxFiles = 200_000

// SkipCompressionFunc returns true when a file should be stored uncompressed.
// It is called once per file and should be inexpensive.
type SkipCompressionFunc func(path string, info fs.FileInfo) bool

// DefaultSkipCompression returns a SkipCompressionFunc that skips small files
// and known already-compressed extensions.
func DefaultSkipCompression(minSize int64) SkipCompressionFunc {
	return func(path string, info fs.FileInfo) bool {
		if info != nil && minSize > 0 && info.Size() < minSize {
			return true
		}
		_, ok := precompressedExts[strings.ToLower(filepath.Ext(path))]
		return ok
	}
}

func shouldSkip(path string, info fs.FileInfo, predicates []SkipCompressionFunc) bool {
	for _, fn := range predicates {
		if fn != nil && fn(path, info) {
			return true
		}
	}
	return false
}

// Asset and media formats that are already compressed.
var precompressedExts = map[string]struct{}{
	".7z":    {},
	".aac":   {},
	".astc":  {},
	".br":    {},
	".bz2":   {},
	".dds":   {},
	".flac":  {},
	".gz":    {},
	".jpeg":  {},
	".jpg":   {},
	".ktx2":  {},
	".mp3":   {},
	".mp4":   {},
	".ogg":   {},
	".opus":  {},
	".pak":   {},
	".png":   {},
	".wem":   {},
	".webm":  {},
	".webp":  {},
	".woff2": {},
	".xz":    {},
	".zip":   {},
	".zst":   {},
}

// createConfig holds configuration for archive creation.
type createConfig struct {
	compression     compression.Tag
	skipCompression []SkipCompressionFunc
	maxFiles        int
	maxFileSize     uint64
	logger          *slog.Logger
}

// CreateOption configures archive creation.
type CreateOption func(*createConfig)

// CreateWithCompression sets the codec used for stored files.
// The default is compression.TagNone.
func CreateWithCompression(tag compression.Tag) CreateOption {
	return func(cfg *createConfig) {
		cfg.compression = tag
	}
}

// CreateWithSkipCompression adds predicates that decide to store a file uncompressed.
// If any predicate returns true, compression is skipped for that file.
func CreateWithSkipCompression(fns ...SkipCompressionFunc) CreateOption {
	return func(cfg *createConfig) {
		cfg.skipCompression = append(cfg.skipCompression, fns...)
	}
}

// CreateWithMaxFiles limits the number of files included in the archive.
// Zero uses DefaultMaxFiles. Negative means no limit.
func CreateWithMaxFiles(n int) CreateOption {
	return func(cfg *createConfig) {
		cfg.maxFiles = n
	}
}

// CreateWithMaxFileSize rejects input files larger than n bytes.
// Zero uses DefaultMaxFileSize.
func CreateWithMaxFileSize(n uint64) CreateOption {
	return func(cfg *createConfig) {
		cfg.maxFileSize = n
	}
}

// CreateWithLogger sets the logger for archive creation.
func CreateWithLogger(logger *slog.Logger) CreateOption {
	return func(cfg *createConfig) {
		cfg.logger = logger
	}
}
