// Package media holds the file-extension policy shared by the session
// manager, the delivery engine and the cast controller.
package media

import (
	"mime"
	"path"
	"strings"
	"unicode"

	"github.com/h2non/filetype"
	"github.com/mtahle/torrent-streamer/internal/domain"
)

const defaultContentType = "application/octet-stream"

var videoExts = map[string]struct{}{
	".mp4":  {},
	".mkv":  {},
	".mov":  {},
	".avi":  {},
	".webm": {},
	".m4v":  {},
}

var subtitleTypes = map[string]string{
	".srt": "text/srt",
	".vtt": "text/vtt",
	".ass": "text/x-ssa",
	".ssa": "text/x-ssa",
}

// Ext returns the lower-cased extension of name including the dot.
func Ext(name string) string {
	return strings.ToLower(path.Ext(baseName(name)))
}

func IsVideo(name string) bool {
	_, ok := videoExts[Ext(name)]
	return ok
}

func IsSubtitle(name string) bool {
	_, ok := subtitleTypes[Ext(name)]
	return ok
}

// ContentType resolves a MIME type from the file extension.
func ContentType(name string) string {
	ext := Ext(name)
	if ext == "" {
		return defaultContentType
	}
	if kind := filetype.GetType(strings.TrimPrefix(ext, ".")); kind != filetype.Unknown && kind.MIME.Value != "" {
		return kind.MIME.Value
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return defaultContentType
}

func SubtitleContentType(name string) string {
	if ct, ok := subtitleTypes[Ext(name)]; ok {
		return ct
	}
	return "text/plain"
}

// DefaultSelection picks the largest video file, first occurrence winning
// ties, or index 0 when no file has a video extension.
func DefaultSelection(files []domain.FileDescriptor) int {
	best := -1
	var bestSize int64
	for i, f := range files {
		if !IsVideo(f.Name) {
			continue
		}
		if best < 0 || f.Size > bestSize {
			best = i
			bestSize = f.Size
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// SafeFilename derives an inline download name from the display title and
// the original file's extension.
func SafeFilename(title, originalName string) string {
	ext := path.Ext(baseName(originalName))
	stem := strings.TrimSpace(title)
	if stem == "" {
		stem = strings.TrimSuffix(baseName(originalName), ext)
	}

	var b strings.Builder
	for _, r := range stem {
		if unicode.IsControl(r) || strings.ContainsRune(`/\:*?"<>|`, r) {
			continue
		}
		b.WriteRune(r)
	}
	clean := strings.Trim(strings.TrimSpace(b.String()), ".")
	if clean == "" {
		clean = "stream"
	}
	return clean + ext
}

// baseName strips torrent-internal directories, which use forward slashes
// regardless of platform.
func baseName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return path.Base(name)
}
