package miner

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"

	"fsminer/internal/filesystem"
)

// Crawl describes one traversal.
type Crawl struct {
	// Root tags every yielded item.
	Root string
	// Dir is where the walk starts; empty means Root.
	Dir string
	// Recursive descends into subdirectories. Otherwise only direct
	// children of Dir are yielded.
	Recursive bool
	// IncludeDir yields Dir itself, subject to CheckDirectoryContents.
	IncludeDir bool
	// Generation tags every yielded item.
	Generation uint64
	// OnTraverse is called for every directory whose listing succeeded.
	OnTraverse func(dir string)
}

// Crawler enumerates directory trees through a Policy.
type Crawler struct {
	policy Policy
	retry  filesystem.RetryConfig
}

// NewCrawler creates a crawler. Directory listings retry on stale NFS handles.
func NewCrawler(policy Policy, retry filesystem.RetryConfig) *Crawler {
	return &Crawler{policy: policy, retry: retry}
}

// Walk lazily yields the items of one crawl, depth-first with children in
// filename order. A directory is yielded before its children. A listing
// failure yields the directory with a non-nil *ItemError and the walk
// continues with its siblings. Only regular files and directories are
// considered; symlinks and special files are skipped.
func (c *Crawler) Walk(ctx context.Context, cr Crawl) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		dir := cr.Dir
		if dir == "" {
			dir = cr.Root
		}
		if !c.policy.CheckDirectory(dir) {
			return
		}
		c.walkDir(ctx, cr, dir, cr.IncludeDir, true, yield)
	}
}

// walkDir lists dir, optionally yields it, then visits its children. descend
// is false for subdirectories of a non-recursive walk. It returns false once
// the consumer stops or ctx is done.
func (c *Crawler) walkDir(ctx context.Context, cr Crawl, dir string, indexSelf, descend bool, yield func(Item, error) bool) bool {
	if ctx.Err() != nil {
		return false
	}

	entries, err := filesystem.ReadDirWithRetry(ctx, dir, c.retry)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		return yield(c.item(cr, dir, KindDirectory), &ItemError{Path: dir, Err: err})
	}

	if descend && cr.OnTraverse != nil {
		cr.OnTraverse(dir)
	}

	if indexSelf && c.policy.CheckDirectoryContents(dir, names(entries)) {
		if !yield(c.item(cr, dir, KindDirectory), nil) {
			return false
		}
	}
	if !descend {
		return true
	}

	for _, e := range entries {
		child := filepath.Join(dir, e.Name())
		switch {
		case e.Type().IsRegular():
			if c.policy.CheckFile(child) {
				if !yield(c.item(cr, child, KindFile), nil) {
					return false
				}
			}
		case e.IsDir():
			if !c.policy.CheckDirectory(child) {
				continue
			}
			if !c.walkDir(ctx, cr, child, true, cr.Recursive, yield) {
				return false
			}
		}
	}
	return true
}

// DirectoryItem evaluates a single directory the way a walk would, without
// descending. ok is false when the policy rejects it.
func (c *Crawler) DirectoryItem(ctx context.Context, cr Crawl, dir string) (item Item, ok bool, err error) {
	if !c.policy.CheckDirectory(dir) {
		return Item{}, false, nil
	}
	entries, err := filesystem.ReadDirWithRetry(ctx, dir, c.retry)
	if err != nil {
		return c.item(cr, dir, KindDirectory), false, &ItemError{Path: dir, Err: err}
	}
	if !c.policy.CheckDirectoryContents(dir, names(entries)) {
		return Item{}, false, nil
	}
	return c.item(cr, dir, KindDirectory), true, nil
}

func (c *Crawler) item(cr Crawl, path string, kind Kind) Item {
	return Item{
		Path:       path,
		Root:       cr.Root,
		Kind:       kind,
		Discovery:  Crawled,
		Generation: cr.Generation,
	}
}

func names(entries []fs.DirEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name()
	}
	return out
}
