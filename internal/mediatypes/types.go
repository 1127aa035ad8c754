package mediatypes

// Class is the coarse category the extractor assigns to a file.
type Class string

const (
	// ClassImage represents an image file.
	ClassImage Class = "image"
	// ClassVideo represents a video file.
	ClassVideo Class = "video"
	// ClassAudio represents an audio file.
	ClassAudio Class = "audio"
	// ClassText represents a plain text or source file.
	ClassText Class = "text"
	// ClassDocument represents an office or PDF document.
	ClassDocument Class = "document"
	// ClassArchive represents a compressed archive.
	ClassArchive Class = "archive"
	// ClassOther represents an unknown or unsupported file type.
	ClassOther Class = "other"
)

// ImageExtensions maps file extensions to whether they are image formats.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".svg":  true,
	".ico":  true,
	".tiff": true,
	".tif":  true,
	".heic": true,
	".heif": true,
}

// DecodableImageExtensions lists the image formats whose dimensions can be
// read with image.DecodeConfig and the golang.org/x/image decoders.
var DecodableImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
}

// VideoExtensions maps file extensions to whether they are video formats.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
	".mpeg": true,
	".mpg":  true,
	".3gp":  true,
}

// AudioExtensions maps file extensions to whether they are audio formats.
var AudioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".oga":  true,
	".wav":  true,
	".m4a":  true,
	".aac":  true,
	".opus": true,
}

// TextExtensions maps file extensions to whether they hold line oriented text.
var TextExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".rst":  true,
	".csv":  true,
	".tsv":  true,
	".log":  true,
	".json": true,
	".yaml": true,
	".yml":  true,
	".toml": true,
	".ini":  true,
	".xml":  true,
	".html": true,
	".htm":  true,
	".css":  true,
	".go":   true,
	".py":   true,
	".js":   true,
	".ts":   true,
	".c":    true,
	".h":    true,
	".sh":   true,
	".sql":  true,
}

// DocumentExtensions maps file extensions to whether they are documents.
var DocumentExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".odt":  true,
	".xls":  true,
	".xlsx": true,
	".ods":  true,
	".ppt":  true,
	".pptx": true,
	".odp":  true,
	".epub": true,
}

// ArchiveExtensions maps file extensions to whether they are archives.
var ArchiveExtensions = map[string]bool{
	".zip": true,
	".tar": true,
	".gz":  true,
	".tgz": true,
	".bz2": true,
	".xz":  true,
	".zst": true,
	".7z":  true,
	".rar": true,
}

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	// Images
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",

	// Videos
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".3gp":  "video/3gpp",

	// Audio
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".opus": "audio/opus",

	// Text
	".txt":  "text/plain",
	".md":   "text/markdown",
	".rst":  "text/x-rst",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".log":  "text/plain",
	".json": "application/json",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".toml": "application/toml",
	".ini":  "text/plain",
	".xml":  "application/xml",
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".go":   "text/x-go",
	".py":   "text/x-python",
	".js":   "text/javascript",
	".ts":   "text/x-typescript",
	".c":    "text/x-c",
	".h":    "text/x-c",
	".sh":   "application/x-sh",
	".sql":  "application/sql",

	// Documents
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".odt":  "application/vnd.oasis.opendocument.text",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".epub": "application/epub+zip",

	// Archives
	".zip": "application/zip",
	".tar": "application/x-tar",
	".gz":  "application/gzip",
	".tgz": "application/gzip",
	".bz2": "application/x-bzip2",
	".xz":  "application/x-xz",
	".zst": "application/zstd",
	".7z":  "application/x-7z-compressed",
	".rar": "application/vnd.rar",
}

// GetClass returns the Class for a given file extension.
// The extension should be lowercase and include the leading dot (e.g., ".jpg").
// Returns ClassOther if the extension is not recognized.
func GetClass(ext string) Class {
	switch {
	case ImageExtensions[ext]:
		return ClassImage
	case VideoExtensions[ext]:
		return ClassVideo
	case AudioExtensions[ext]:
		return ClassAudio
	case TextExtensions[ext]:
		return ClassText
	case DocumentExtensions[ext]:
		return ClassDocument
	case ArchiveExtensions[ext]:
		return ClassArchive
	default:
		return ClassOther
	}
}

// GetMimeType returns the MIME type for a given file extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// IsDecodableImage reports whether image dimensions can be read for ext.
func IsDecodableImage(ext string) bool {
	return DecodableImageExtensions[ext]
}
