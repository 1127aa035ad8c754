package extract

import (
	"path/filepath"
	"slices"
	"strings"

	"fsminer/internal/miner"
)

// DefaultIgnoreMarkers are file names that exclude their directory from
// indexing. The directory is still traversed.
var DefaultIgnoreMarkers = []string{".nomedia", ".trackerignore"}

// PolicyConfig configures a Policy.
type PolicyConfig struct {
	// IgnoreNames are base names skipped wherever they appear, e.g. "node_modules".
	IgnoreNames []string
	// IgnoreMarkers are file names that exclude their directory from indexing.
	IgnoreMarkers []string
	// IncludeHidden indexes entries whose name starts with a dot.
	IncludeHidden bool
}

// Policy is the predicate set used by the fsminer binary.
type Policy struct {
	ignore  map[string]struct{}
	markers map[string]struct{}
	hidden  bool
}

var _ miner.Policy = (*Policy)(nil)

// NewPolicy builds a Policy. A nil IgnoreMarkers uses DefaultIgnoreMarkers.
func NewPolicy(cfg PolicyConfig) *Policy {
	markers := cfg.IgnoreMarkers
	if markers == nil {
		markers = DefaultIgnoreMarkers
	}

	p := &Policy{
		ignore:  make(map[string]struct{}, len(cfg.IgnoreNames)),
		markers: make(map[string]struct{}, len(markers)),
		hidden:  cfg.IncludeHidden,
	}
	for _, name := range cfg.IgnoreNames {
		if name = strings.TrimSpace(name); name != "" {
			p.ignore[name] = struct{}{}
		}
	}
	for _, name := range markers {
		p.markers[name] = struct{}{}
	}
	return p
}

func (p *Policy) skip(path string) bool {
	name := filepath.Base(path)
	if !p.hidden && strings.HasPrefix(name, ".") {
		return true
	}
	_, ignored := p.ignore[name]
	return ignored
}

// CheckFile accepts every file that is neither hidden nor ignored.
func (p *Policy) CheckFile(path string) bool {
	return !p.skip(path)
}

// CheckDirectory accepts every directory that is neither hidden nor ignored.
func (p *Policy) CheckDirectory(path string) bool {
	return !p.skip(path)
}

// CheckDirectoryContents declines empty directories and those holding an
// ignore marker.
func (p *Policy) CheckDirectoryContents(_ string, children []string) bool {
	if len(children) == 0 {
		return false
	}
	return !slices.ContainsFunc(children, func(name string) bool {
		_, ok := p.markers[filepath.Base(name)]
		return ok
	})
}

// MonitorDirectory watches every traversed directory.
func (p *Policy) MonitorDirectory(path string) bool {
	return !p.skip(path)
}
