// Package extract provides the reference Policy and Extractor wired into
// the fsminer binary.
//
// [Policy] skips hidden entries and configured ignore names, declines to
// index a directory that is empty or carries an ignore marker such as
// ".nomedia", and watches every directory it lets the crawler traverse.
//
// [Extractor] reads each file once, hashing it with BLAKE2b-256 while
// counting lines and words for text and pages for PDF. Image dimensions
// come from image.DecodeConfig with the golang.org/x/image decoders
// registered. Reads poll the context between chunks so a timed-out
// extraction stops promptly. Results are memoized by path, size and
// modification time in an LRU cache.
package extract
