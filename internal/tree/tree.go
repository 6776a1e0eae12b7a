// Package tree turns the indented listing printed by `pass ls` back into
// full entry paths.
package tree

import (
	"context"
	"regexp"
	"strings"
)

// entryLine matches "<prefix>-- <name>" where the prefix ends in the tree
// connector glyphs ('|' or '`') printed with TREE_CHARSET=ASCII.
var entryLine = regexp.MustCompile("^(.*[|`]+)-- (.*)$")

type node struct {
	depth int
	name  string
}

// Parse reconstructs the leaf paths below basePath from listing. Lines
// that are not tree entries, such as the header naming the root, are
// ignored.
//
// Each entry is first recorded as a leaf. When the next entry is indented
// deeper, the previous one turns out to be a directory: it is pushed onto
// the ancestry stack and its path is withdrawn.
func Parse(basePath, listing string) []string {
	var (
		result    []string
		ancestors []node
		last      *node
	)

	for _, line := range strings.Split(listing, "\n") {
		m := entryLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		depth, name := len(m[1]), m[2]

		if last != nil && depth > last.depth {
			ancestors = append(ancestors, *last)
			result = result[:len(result)-1]
		}
		for len(ancestors) > 0 && ancestors[len(ancestors)-1].depth >= depth {
			ancestors = ancestors[:len(ancestors)-1]
		}

		segments := make([]string, 0, len(ancestors)+2)
		segments = append(segments, basePath)
		for _, a := range ancestors {
			segments = append(segments, a.name)
		}
		segments = append(segments, name)
		result = append(result, strings.Join(segments, "/"))

		last = &node{depth: depth, name: name}
	}
	return result
}

// Source lists a store path. ok is false when the path cannot be listed.
type Source interface {
	List(ctx context.Context, path string) (listing string, ok bool)
}

// Lister enumerates store entries.
type Lister struct {
	source Source
}

// NewLister returns a Lister reading listings from source.
func NewLister(source Source) *Lister {
	return &Lister{source: source}
}

// ListPaths returns every entry path below basePath. A path that cannot
// be listed has no entries.
func (l *Lister) ListPaths(ctx context.Context, basePath string) []string {
	listing, ok := l.source.List(ctx, basePath)
	if !ok {
		return nil
	}
	return Parse(basePath, listing)
}

// ListAll concatenates ListPaths over basePaths, in order.
func (l *Lister) ListAll(ctx context.Context, basePaths []string) []string {
	var all []string
	for _, p := range basePaths {
		all = append(all, l.ListPaths(ctx, p)...)
	}
	return all
}
