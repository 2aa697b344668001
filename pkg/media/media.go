// Package media classifies audio files: which extensions count as audio during a
// library walk, which formats a browser can decode natively, and which file names
// are conventional cover art.
package media

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// unexported variables.
var (
	//nolint:gochecknoglobals // Fixed allow-list shared by all callers
	streamableFormats = map[string]string{
		"mp3":  "audio/mpeg",
		"flac": "audio/flac",
		"wav":  "audio/wav",
		"ogg":  "audio/ogg",
		"oga":  "audio/ogg",
		"opus": "audio/ogg",
		"m4a":  "audio/mp4",
		"aac":  "audio/aac",
		"webm": "audio/webm",
	}

	// audioExtensions is wider than streamableFormats: lossless formats the browser
	// can't decode are still part of a library.
	//nolint:gochecknoglobals // Fixed allow-list shared by all callers
	audioExtensions = map[string]bool{
		"mp3": true, "flac": true, "wav": true, "ogg": true, "oga": true,
		"opus": true, "m4a": true, "aac": true, "webm": true, "alac": true,
		"ape": true, "wv": true, "aiff": true, "aif": true, "wma": true,
		"dsf": true, "dff": true,
	}

	//nolint:gochecknoglobals // Conventional cover names, matched lower-case
	coverArtPatterns = []string{
		"{cover,folder,front,album,albumart}.{jpg,jpeg,png,webp}",
	}
)

// ContentType returns the MIME type to serve a streamable format with.
// Non-streamable formats get application/octet-stream.
func ContentType(format string) string {
	if ct, ok := streamableFormats[normalize(format)]; ok {
		return ct
	}

	return "application/octet-stream"
}

// FormatFromPath returns the lower-case extension of a file name without the dot.
func FormatFromPath(name string) string {
	return normalize(path.Ext(name))
}

// IsAudioFile reports whether a file name has a recognized audio extension.
func IsAudioFile(name string) bool {
	return audioExtensions[FormatFromPath(name)]
}

// IsCoverArt reports whether a file name is a conventional cover image name.
// Matching is case-insensitive and considers the base name only.
func IsCoverArt(name string) bool {
	base := strings.ToLower(path.Base(name))

	for _, pattern := range coverArtPatterns {
		matched, err := doublestar.Match(pattern, base)
		if err == nil && matched {
			return true
		}
	}

	return false
}

// IsStreamable reports whether a format is in the browser-playable allow-list.
// Accepts "flac", ".flac" or "FLAC".
func IsStreamable(format string) bool {
	_, ok := streamableFormats[normalize(format)]
	return ok
}

func normalize(format string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
}
