// Package media fetches attachment bytes and infers upload metadata
// (MIME type, filename) from attachment URLs.
package media

import (
	"net/url"
	"path"
	"strings"
)

// DefaultMIMEType is used when the URL extension is not a known image type.
const DefaultMIMEType = "application/octet-stream"

// SupportedImageExtensions maps lowercase file extensions to MIME types.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".avif": "image/avif",
	".heic": "image/heic",
	".heif": "image/heif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// IsImage reports whether ext (with leading dot, any case) is a known image extension.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// MIMETypeFromURL infers a MIME type from the extension of the URL path.
// Query strings and fragments are ignored. Unknown extensions yield
// DefaultMIMEType.
func MIMETypeFromURL(rawURL string) string {
	ext := strings.ToLower(path.Ext(urlPath(rawURL)))
	if mimeType, ok := SupportedImageExtensions[ext]; ok {
		return mimeType
	}
	return DefaultMIMEType
}

// FilenameFromURL returns the last path segment of the URL, or "image"
// when the URL has none.
func FilenameFromURL(rawURL string) string {
	name := path.Base(urlPath(rawURL))
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	return name
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// Fall back to stripping the query by hand.
		if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	return u.Path
}
