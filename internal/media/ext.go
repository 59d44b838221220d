package media

import "strings"

// ExtensionFor maps a content type to a file extension. Specific containers
// are matched before the generic video fallback; unknown types use fallback,
// then "bin".
func ExtensionFor(contentType, fallback string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "png"):
		return "png"
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return "jpg"
	case strings.Contains(ct, "gif"):
		return "gif"
	case strings.Contains(ct, "webp"):
		return "webp"
	case strings.Contains(ct, "webm"):
		return "webm"
	case strings.Contains(ct, "quicktime"), strings.Contains(ct, "mov"):
		return "mov"
	case strings.Contains(ct, "mp4"), strings.HasPrefix(ct, "video/"):
		return "mp4"
	}
	if fb := strings.TrimPrefix(strings.ToLower(fallback), "."); fb != "" {
		return fb
	}
	return "bin"
}
