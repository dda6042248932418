package imaging

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// Format is the lossy raster format a canvas is encoded to.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatWEBP Format = "webp"
)

// ParseFormat accepts short names, common aliases and MIME types.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "jpeg", "jpg", "image/jpeg", "image/jpg":
		return FormatJPEG, nil
	case "webp", "image/webp":
		return FormatWEBP, nil
	}
	return "", &Error{Code: CodeUnsupportedFormat, Err: fmt.Errorf("output format %q", value)}
}

// ContentType returns the MIME type of encoded output.
func (f Format) ContentType() string {
	if f == FormatWEBP {
		return "image/webp"
	}
	return "image/jpeg"
}

// Extension returns the file extension without the leading dot.
func (f Format) Extension() string {
	if f == FormatWEBP {
		return "webp"
	}
	return "jpg"
}

// Source is the raw upload handed to the compressor. Data is never modified.
type Source struct {
	Name        string
	ContentType string
	Data        []byte
}

var heifContentTypes = map[string]struct{}{
	"image/heic":          {},
	"image/heif":          {},
	"image/heic-sequence": {},
	"image/heif-sequence": {},
}

var heifBrands = map[string]struct{}{
	"heic": {}, "heix": {}, "hevc": {}, "hevx": {},
	"heim": {}, "heis": {}, "mif1": {}, "msf1": {},
}

// isHEIF reports whether src is a HEIC/HEIF container. The declared type is
// checked first, then the file extension, then the ISO-BMFF ftyp brand.
func isHEIF(src Source) bool {
	contentType := strings.ToLower(strings.TrimSpace(src.ContentType))
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if _, ok := heifContentTypes[contentType]; ok {
		return true
	}

	switch strings.ToLower(filepath.Ext(src.Name)) {
	case ".heic", ".heif":
		return true
	}

	if len(src.Data) < 12 || string(src.Data[4:8]) != "ftyp" {
		return false
	}
	_, ok := heifBrands[string(src.Data[8:12])]
	return ok
}

// rasterExtensions lists the sniffed types an original may be stored as.
var rasterExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/webp": "webp",
}

// SniffRaster reports the content type and extension of data judged by its
// leading bytes alone. Declared types and file names are ignored.
func SniffRaster(data []byte) (contentType, ext string, ok bool) {
	contentType = http.DetectContentType(data)
	ext, ok = rasterExtensions[contentType]
	if !ok {
		return "", "", false
	}
	return contentType, ext, true
}
