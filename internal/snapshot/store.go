// Package snapshot holds the most recently rendered bitmap per
// (page_id, mode) key and serves cropped byte streams from it. It is
// the sole read path for device requests; the Render Worker is its
// sole writer.
package snapshot

import (
	"crypto/sha1" //nolint:gosec // used only as a short change-detection fingerprint, not cryptographically
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/dfeldman/webink/internal/mode"
)

// Encoding selects the byte layout Crop returns.
type Encoding string

const (
	EncodingPNG Encoding = "png"
	EncodingPBM Encoding = "pbm"
	EncodingPGM Encoding = "pgm"
	EncodingPPM Encoding = "ppm"
)

// ErrNotFound is returned when no bitmap has been committed yet for a
// (page, mode) key.
var ErrNotFound = fmt.Errorf("snapshot: bitmap not available")

// ErrOutOfBounds is returned by Crop when the requested rectangle does
// not lie entirely within the stored bitmap.
var ErrOutOfBounds = fmt.Errorf("snapshot: crop out of bounds")

// Store is a content-addressed, filesystem-backed bitmap store keyed
// by (page_id, mode). Reads never observe a half-written file: Put
// writes to a temp file in the same directory and renames it into
// place, which is atomic on POSIX filesystems.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. dir is created if missing.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: creating data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(pageID string, m mode.Mode) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.png", pageID, m.String()))
}

// Put atomically replaces the bitmap for (pageID, m) with img, encoded
// as PNG.
func (s *Store) Put(pageID string, m mode.Mode, img image.Image) error {
	final := s.path(pageID, m)

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName) // no-op once renamed
	}()

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: encoding png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("snapshot: committing bitmap: %w", err)
	}
	return nil
}

// Exists reports whether a bitmap has ever been committed for
// (pageID, m).
func (s *Store) Exists(pageID string, m mode.Mode) bool {
	_, err := os.Stat(s.path(pageID, m))
	return err == nil
}

// HasAny reports whether any mode has a committed bitmap for pageID.
func (s *Store) HasAny(pageID string, modes []string) bool {
	for _, ms := range modes {
		m, err := mode.Parse(ms)
		if err != nil {
			continue
		}
		if s.Exists(pageID, m) {
			return true
		}
	}
	return false
}

// Hash returns the 8-hex-char SHA-1 prefix of the bitmap's file bytes,
// or ErrNotFound if no bitmap has been committed yet. Its value
// changes if and only if the bitmap's byte content changes.
func (s *Store) Hash(pageID string, m mode.Mode) (string, error) {
	data, err := os.ReadFile(s.path(pageID, m))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("snapshot: reading bitmap: %w", err)
	}
	sum := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])[:8], nil
}

// Crop reads the current bitmap for (pageID, m), validates
// (x, y, w, h) against its dimensions, and returns the requested
// encoding. Bytes are always drawn from one consistent, fully-written
// file; a read never observes a partial bitmap.
func (s *Store) Crop(pageID string, m mode.Mode, x, y, w, h int, enc Encoding) ([]byte, string, error) {
	if w <= 0 || h <= 0 {
		return nil, "", fmt.Errorf("snapshot: crop width/height must be positive")
	}

	f, err := os.Open(s.path(pageID, m))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("snapshot: opening bitmap: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("snapshot: decoding bitmap: %w", err)
	}

	b := img.Bounds()
	if x < 0 || y < 0 || x+w > b.Dx() || y+h > b.Dy() {
		return nil, "", ErrOutOfBounds
	}

	sub, err := mode.SubImage(img, b.Min.X+x, b.Min.Y+y, w, h)
	if err != nil {
		return nil, "", err
	}

	switch enc {
	case EncodingPNG:
		data, err := mode.EncodePNG(sub)
		return data, "image/png", err
	case EncodingPBM:
		if m.BitsPerPixel() != 1 {
			return nil, "", fmt.Errorf("snapshot: pbm format requires a 1-bit mode, got %s", m)
		}
		return mode.PackRaw(sub, 1), "image/x-portable-bitmap", nil
	case EncodingPGM:
		if m.BitsPerPixel() != 8 {
			return nil, "", fmt.Errorf("snapshot: pgm format requires an 8-bit gray mode, got %s", m)
		}
		return mode.PackRaw(sub, 8), "image/x-portable-graymap", nil
	case EncodingPPM:
		if m.BitsPerPixel() != 24 {
			return nil, "", fmt.Errorf("snapshot: ppm format requires a 24-bit RGB mode, got %s", m)
		}
		return mode.PackRaw(sub, 24), "image/x-portable-pixmap", nil
	default:
		return nil, "", fmt.Errorf("snapshot: unsupported encoding %q", enc)
	}
}
