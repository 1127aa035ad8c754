package extract

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"io"
	"maps"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"
	_ "golang.org/x/image/bmp"  // BMP decoder
	_ "golang.org/x/image/tiff" // TIFF decoder
	_ "golang.org/x/image/webp" // WebP decoder

	"fsminer/internal/filesystem"
	"fsminer/internal/logging"
	"fsminer/internal/mediatypes"
	"fsminer/internal/metrics"
	"fsminer/internal/miner"
)

var log = logging.Component("extract")

// Config tunes an Extractor.
type Config struct {
	// CacheSize is the number of memoized results kept.
	CacheSize int
	// ChunkSize is the read size between context checks.
	ChunkSize int
	// HashLimit caps how many bytes are hashed and counted; 0 means the
	// whole file.
	HashLimit int64
	// Retry configures filesystem retries.
	Retry filesystem.RetryConfig
}

// DefaultConfig returns the defaults used by the fsminer binary.
func DefaultConfig() Config {
	return Config{
		CacheSize: 4096,
		ChunkSize: 64 * 1024,
		Retry:     filesystem.DefaultRetryConfig(),
	}
}

type cacheKey struct {
	path    string
	size    int64
	modTime int64
}

// Extractor reads file metadata and content statistics.
type Extractor struct {
	cfg   Config
	cache *lru.Cache[cacheKey, map[string]any]
}

var _ miner.Extractor = (*Extractor)(nil)

// New creates an Extractor.
func New(cfg Config) (*Extractor, error) {
	def := DefaultConfig()
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = def.Retry
	}

	cache, err := lru.New[cacheKey, map[string]any](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction cache: %w", err)
	}
	return &Extractor{cfg: cfg, cache: cache}, nil
}

// ProcessFile extracts the data recorded for path. It stops with ctx's
// error as soon as ctx is done.
func (x *Extractor) ProcessFile(ctx context.Context, path string) (map[string]any, error) {
	info, err := filesystem.StatWithRetry(ctx, path, x.cfg.Retry)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	key := cacheKey{path: path, size: info.Size(), modTime: info.ModTime().UnixNano()}
	if cached, ok := x.cache.Get(key); ok {
		metrics.ExtractCacheHits.Inc()
		return maps.Clone(cached), nil
	}
	metrics.ExtractCacheMisses.Inc()

	ext := strings.ToLower(filepath.Ext(path))
	class := mediatypes.GetClass(ext)

	data := map[string]any{
		"size":     info.Size(),
		"modified": info.ModTime().UTC().Format(time.RFC3339),
		"mime":     mediatypes.GetMimeType(ext),
		"class":    string(class),
	}

	f, err := filesystem.OpenWithRetry(ctx, path, x.cfg.Retry)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Debug("Failed to close %s: %v", path, closeErr)
		}
	}()

	st, err := x.scan(ctx, f, class, ext == ".pdf")
	metrics.ExtractBytesRead.WithLabelValues(bytesLabel(class)).Add(float64(st.read))
	if err != nil {
		return nil, err
	}
	data["hash"] = "blake2b-256:" + st.hash
	if st.truncated {
		data["hash_partial"] = true
	}
	if class == mediatypes.ClassText {
		data["lines"] = st.lines
		data["words"] = st.words
	}
	if ext == ".pdf" {
		data["pages"] = st.pages
	}

	if mediatypes.IsDecodableImage(ext) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		if cfg, format, err := image.DecodeConfig(f); err == nil {
			data["width"] = cfg.Width
			data["height"] = cfg.Height
			data["format"] = format
		} else {
			log.Debug("Could not read image dimensions for %s: %v", path, err)
		}
	}

	x.cache.Add(key, data)
	return maps.Clone(data), nil
}

// Purge drops every memoized result.
func (x *Extractor) Purge() {
	x.cache.Purge()
}

// CacheLen returns the number of memoized results.
func (x *Extractor) CacheLen() int {
	return x.cache.Len()
}

type scanStats struct {
	hash      string
	read      int64
	truncated bool
	lines     int
	words     int
	pages     int
}

// pdfPage matches a page object but not the /Pages tree node.
var pdfPage = regexp.MustCompile(`/Type\s*/Page[^s]`)

// pdfOverlap is enough carry-over to match a page marker split across reads.
const pdfOverlap = 32

// scan hashes r and gathers text and PDF statistics in one pass.
func (x *Extractor) scan(ctx context.Context, r io.Reader, class mediatypes.Class, pdf bool) (scanStats, error) {
	var st scanStats

	h, err := blake2b.New256(nil)
	if err != nil {
		return st, err
	}

	if x.cfg.HashLimit > 0 {
		r = io.LimitReader(r, x.cfg.HashLimit+1)
	}

	buf := make([]byte, x.cfg.ChunkSize)
	var (
		inWord   bool
		lastByte byte = '\n'
		tail     []byte
	)

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if x.cfg.HashLimit > 0 && st.read+int64(n) > x.cfg.HashLimit {
				chunk = chunk[:x.cfg.HashLimit-st.read]
				st.truncated = true
			}
			st.read += int64(len(chunk))
			_, _ = h.Write(chunk)

			if class == mediatypes.ClassText && len(chunk) > 0 {
				for _, b := range chunk {
					switch b {
					case ' ', '\t', '\n', '\r', '\v', '\f':
						if b == '\n' {
							st.lines++
						}
						inWord = false
					default:
						if !inWord {
							st.words++
							inWord = true
						}
					}
				}
				lastByte = chunk[len(chunk)-1]
			}

			if pdf && len(chunk) > 0 {
				window := append(tail, chunk...)
				for _, loc := range pdfPage.FindAllIndex(window, -1) {
					if loc[1] > len(tail) {
						st.pages++
					}
				}
				if len(window) > pdfOverlap {
					window = window[len(window)-pdfOverlap:]
				}
				tail = bytes.Clone(window)
			}

			if st.truncated {
				break
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return st, readErr
		}
	}

	if class == mediatypes.ClassText && lastByte != '\n' {
		st.lines++
	}
	st.hash = hex.EncodeToString(h.Sum(nil))
	return st, nil
}

func bytesLabel(c mediatypes.Class) string {
	switch c {
	case mediatypes.ClassImage, mediatypes.ClassText:
		return string(c)
	default:
		return "other"
	}
}
