// Package mediatypes classifies files by extension.
//
// This package is a dependency-free foundation that can be imported by other
// packages without creating import cycles.
//
// # Classes
//
//	ext := strings.ToLower(filepath.Ext(name))
//	switch mediatypes.GetClass(ext) {
//	case mediatypes.ClassImage:
//	    // read dimensions
//	case mediatypes.ClassText:
//	    // count lines and words
//	}
//
// # MIME Types
//
//	mime := mediatypes.GetMimeType(ext) // e.g., "image/jpeg"
//
// The extension maps can be used directly for validation or iteration.
// [DecodableImageExtensions] is the subset of images whose dimensions the
// extractor can read without an external decoder.
package mediatypes
