package media

import (
	"net/url"
	"path"
	"slices"
	"strings"
)

// imageExtensions are file extensions accepted as images without further hints.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".svg", ".avif"}

// imageKeywords make an extensionless URL image-like, e.g. CDN or upload paths.
var imageKeywords = []string{"image", "media", "upload", "img", "photo"}

// SourceValue is the raw image cell of one record.
type SourceValue struct {
	RecordID string
	Value    string
}

// ExtractImageTasks builds one Pending task per record whose image cell holds
// an image-like http(s) URL. A pipe-delimited cell contributes its first URL
// only; the remaining URLs are ignored.
func ExtractImageTasks(values []SourceValue) []ImageTask {
	var tasks []ImageTask
	for _, v := range values {
		first, _, _ := strings.Cut(v.Value, "|")
		first = strings.TrimSpace(first)
		if first == "" || !IsImageLike(first) {
			continue
		}
		tasks = append(tasks, ImageTask{RecordID: v.RecordID, SourceURL: first, Status: StatusPending})
	}
	return tasks
}

// IsImageLike reports whether raw is an http(s) URL that plausibly points at
// an image: a known extension, or one of a few loose keywords.
func IsImageLike(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if slices.Contains(imageExtensions, strings.ToLower(path.Ext(u.Path))) {
		return true
	}
	lower := strings.ToLower(raw)
	for _, k := range imageKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// fileNameFromURL returns a storage-safe base name of the URL path.
func fileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return safeName(path.Base(u.Path))
}

// safeName keeps letters, digits, dot, dash and underscore.
func safeName(name string) string {
	if name == "." || name == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), "._")
	if len(s) > 80 {
		s = s[len(s)-80:]
	}
	return s
}
