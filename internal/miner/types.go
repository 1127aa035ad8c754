package miner

import (
	"context"
	"time"
)

// Kind distinguishes files from directories.
type Kind uint8

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// Discovery records how an item entered the queue.
type Discovery uint8

const (
	// Crawled items come from a crawl pass.
	Crawled Discovery = iota
	// Created, Updated, Deleted and Moved items come from change events.
	Created
	Updated
	Deleted
	Moved
)

func (d Discovery) String() string {
	switch d {
	case Crawled:
		return "crawled"
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	case Moved:
		return "moved"
	default:
		return "unknown"
	}
}

// Item is a unit of work for one path.
type Item struct {
	Path       string
	Root       string
	Kind       Kind
	Discovery  Discovery
	From       string // previous path of a move within one root
	Generation uint64
	// RetractFirst is set when the item superseded a pending deletion of
	// its path. Whatever is committed under the path is retracted before
	// the new outcome is applied.
	RetractFirst bool

	root *rootState
}

// Fact is what gets committed for a path. Data is produced by the Extractor
// and is opaque to the engine. Facts are not mutated after creation.
type Fact struct {
	Path       string
	Root       string
	Kind       Kind
	Generation uint64
	ModTime    time.Time
	Size       int64
	Data       map[string]any
}

// Policy decides relevance. Implementations must be safe for concurrent use.
type Policy interface {
	// CheckFile reports whether a regular file should be indexed.
	CheckFile(path string) bool
	// CheckDirectory reports whether a directory should be traversed at all.
	// A false result prunes the whole subtree.
	CheckDirectory(path string) bool
	// CheckDirectoryContents reports whether a traversed directory should
	// itself be indexed, given the names of its children.
	CheckDirectoryContents(dir string, children []string) bool
	// MonitorDirectory reports whether a live watch should be placed on a
	// traversed directory, independently of whether it is indexed.
	MonitorDirectory(path string) bool
}

// Extractor turns a file into structured data. ctx is cancelled on timeout,
// deletion of the path, removal of its root, or shutdown; implementations
// should return promptly once it is done.
type Extractor interface {
	ProcessFile(ctx context.Context, path string) (map[string]any, error)
}

// CommitSink persists facts.
type CommitSink interface {
	// Commit stores a batch of facts, replacing any previous fact per path.
	Commit(ctx context.Context, facts []Fact) error
	// Retract removes the fact for prefix and every fact beneath it.
	Retract(ctx context.Context, prefix string) error
}

// IndexedLister is optionally implemented by a CommitSink so that crawls can
// reconcile paths indexed by an earlier process.
type IndexedLister interface {
	ListIndexed(ctx context.Context, prefix string) ([]string, error)
}

// GenerationSource is optionally implemented by a CommitSink that guards
// its rows by generation. A new root continues from the highest generation
// stored beneath it, so commits after a restart are never older than what
// an earlier process wrote.
type GenerationSource interface {
	MaxGeneration(ctx context.Context, prefix string) (uint64, error)
}

// Op is a change event type.
type Op uint8

const (
	OpCreated Op = iota
	OpUpdated
	OpDeleted
	OpMoved
)

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpUpdated:
		return "updated"
	case OpDeleted:
		return "deleted"
	case OpMoved:
		return "moved"
	default:
		return "unknown"
	}
}

// ChangeEvent is a filesystem change reported by an EventSource.
// OldPath is set only for OpMoved.
type ChangeEvent struct {
	Op      Op
	Path    string
	OldPath string
}

// EventSource delivers change notifications for watched directories.
// Watches are per directory; the engine places one for every monitored
// directory it traverses.
type EventSource interface {
	Watch(dir string) error
	Unwatch(dir string) error
	Events() <-chan ChangeEvent
	// Errors reports failures of the source itself, such as queue overflow.
	// Any error makes the engine re-crawl every root.
	Errors() <-chan error
	Close() error
}
