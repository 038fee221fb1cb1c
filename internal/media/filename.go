package media

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/digitalrelab/star-export/internal/domain"
)

var (
	hostileChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespace   = regexp.MustCompile(`\s+`)
	underscores  = regexp.MustCompile(`_+`)
)

const maxFilenameLen = 255

// SanitizeFilename makes a name safe to place on disk: path-hostile
// characters become underscores, whitespace collapses, and the result
// is capped at 255 characters.
func SanitizeFilename(filename string) string {
	s := hostileChars.ReplaceAllString(filename, "_")
	s = whitespace.ReplaceAllString(s, "_")
	s = underscores.ReplaceAllString(s, "_")
	if len(s) > maxFilenameLen {
		s = s[:maxFilenameLen]
	}
	return s
}

// MediaFilename builds a date-prefixed filename for a media reference,
// sniffing the extension from the URL path and defaulting to jpg/mp4.
func MediaFilename(rawURL, mediaID string, mediaType domain.MediaType, timestamp string) string {
	extension := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		ext := strings.TrimPrefix(path.Ext(parsed.Path), ".")
		if ext != "" && isAlphanumeric(ext) {
			extension = strings.ToLower(ext)
		}
	}
	if extension == "" {
		if mediaType == domain.MediaTypeImage {
			extension = "jpg"
		} else {
			extension = "mp4"
		}
	}

	datePrefix := "unknown"
	if timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, timestamp); err == nil {
			datePrefix = ts.Format("2006-01-02")
		}
	}

	return datePrefix + "_" + mediaID + "." + extension
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
