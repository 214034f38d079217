// Package graph traverses the directed graph formed by entities (nodes) and
// their live relation attributes (edges). Every traversal is depth bounded.
package graph

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// DefaultMaxDepth bounds IsConnectedTo and FindPath when the caller passes
// a non-positive depth.
const DefaultMaxDepth = 6

// LinkSource is the part of the entity store the engine reads.
type LinkSource interface {
	GetByUUID(id string) (*types.Entity, error)
	GetOutgoingLinks(id string) ([]types.Link, error)
}

// Engine runs graph queries against a LinkSource.
type Engine struct {
	links LinkSource
	log   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Engine) {
		if l != nil {
			g.log = l
		}
	}
}

// New creates an engine.
func New(links LinkSource, opts ...Option) *Engine {
	g := &Engine{links: links, log: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsConnectedTo reports whether target is reachable from start over at most
// maxDepth edges. The search is an iterative depth-first walk; a node seen
// again at a shallower depth is expanded again, so the answer does not depend
// on edge order.
func (g *Engine) IsConnectedTo(ctx context.Context, start, target string, maxDepth int) (bool, error) {
	if err := g.exists(start, target); err != nil {
		return false, err
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	type frame struct {
		id    string
		depth int
	}
	shallowest := make(map[string]int)
	stack := []frame{{start, 0}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.id == target {
			return true, nil
		}
		if d, ok := shallowest[cur.id]; ok && d <= cur.depth {
			continue
		}
		shallowest[cur.id] = cur.depth
		if cur.depth >= maxDepth {
			continue
		}

		links, err := g.links.GetOutgoingLinks(cur.id)
		if err != nil {
			return false, err
		}
		for _, l := range links {
			if d, ok := shallowest[l.DestinationID]; ok && d <= cur.depth+1 {
				continue
			}
			stack = append(stack, frame{l.DestinationID, cur.depth + 1})
		}
	}
	return false, nil
}

// Node is one entity of a Subtree with the IDs it links to inside the
// subtree.
type Node struct {
	Entity   *types.Entity `json:"entity"`
	Outgoing []string      `json:"outgoing"`
}

// SubtreeOptions filter the edges Subtree follows. Empty lists allow
// everything.
type SubtreeOptions struct {
	Depth       int
	LinkCodes   []string
	EntityTypes []string // class IDs
}

// Subtree returns every entity within opts.Depth edges of root (at least one)
// keyed by entity ID. Edges are followed only when their code is in
// LinkCodes and their destination's class is in EntityTypes. Nodes at the
// depth limit are included with no outgoing IDs, so every listed ID is a key
// of the result.
func (g *Engine) Subtree(ctx context.Context, root string, opts SubtreeOptions) (map[string]*Node, error) {
	rootEntity, err := g.links.GetByUUID(root)
	if err != nil {
		return nil, err
	}
	depth := opts.Depth
	if depth <= 0 {
		depth = 1
	}

	w := g.walker(opts.LinkCodes, opts.EntityTypes)
	w.entities[root] = rootEntity
	out := map[string]*Node{root: {Entity: rootEntity, Outgoing: []string{}}}

	type item struct {
		id    string
		depth int
	}
	queue := []item{{root, 0}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= depth {
			continue
		}

		next, err := w.edges(cur.id)
		if err != nil {
			return nil, err
		}
		node := out[cur.id]
		for _, dest := range next {
			if !slices.Contains(node.Outgoing, dest.EntityID) {
				node.Outgoing = append(node.Outgoing, dest.EntityID)
			}
			if _, seen := out[dest.EntityID]; seen {
				continue
			}
			out[dest.EntityID] = &Node{Entity: dest, Outgoing: []string{}}
			queue = append(queue, item{dest.EntityID, cur.depth + 1})
		}
	}
	g.log.Debug("subtree", zap.String("root", root), zap.Int("depth", depth), zap.Int("nodes", len(out)))
	return out, nil
}

// PathMode selects how many paths FindPath returns.
type PathMode string

// Path modes.
const (
	PathFirst PathMode = "first"
	PathAll   PathMode = "all"
)

// PathOptions configure FindPath.
type PathOptions struct {
	AllowedEntityTypes []string // class IDs
	AllowedLinkCodes   []string
	Mode               PathMode
	MaxDepth           int  // maximum nodes per path, start and target included
	IDsOnly            bool // leave Path.Entities empty
}

// Path is a sequence of entities from start to target.
type Path struct {
	IDs      []string        `json:"ids"`
	Entities []*types.Entity `json:"entities,omitempty"`
}

// FindPath searches depth first from start to target. PathFirst returns the
// first path found in stack order, which is not necessarily the shortest.
// PathAll collects every path found, but a node is expanded at most once per
// search, so paths that would reuse an intermediate already expanded on
// another branch are not enumerated. No path holds more than MaxDepth nodes
// or repeats a node. An empty result means no path.
func (g *Engine) FindPath(ctx context.Context, start, target string, opts PathOptions) ([]Path, error) {
	if err := g.exists(start, target); err != nil {
		return nil, err
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	switch opts.Mode {
	case "":
		opts.Mode = PathFirst
	case PathFirst, PathAll:
	default:
		return nil, errors.Wrapf(types.ErrInvalidData, "path mode %q", opts.Mode)
	}

	w := g.walker(opts.AllowedLinkCodes, opts.AllowedEntityTypes)
	type frame struct {
		id   string
		path []string
	}
	visited := make(map[string]bool)
	stack := []frame{{start, []string{start}}}
	var found []Path
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.id == target {
			p, err := w.path(cur.path, !opts.IDsOnly)
			if err != nil {
				return nil, err
			}
			found = append(found, p)
			if opts.Mode == PathFirst {
				return found, nil
			}
			continue
		}
		if visited[cur.id] || len(cur.path) >= maxDepth {
			continue
		}
		visited[cur.id] = true

		next, err := w.edges(cur.id)
		if err != nil {
			return nil, err
		}
		for _, dest := range next {
			if visited[dest.EntityID] || slices.Contains(cur.path, dest.EntityID) {
				continue
			}
			path := append(slices.Clip(cur.path), dest.EntityID)
			stack = append(stack, frame{dest.EntityID, path})
		}
	}
	return found, nil
}

func (g *Engine) exists(ids ...string) error {
	for _, id := range ids {
		if _, err := g.links.GetByUUID(id); err != nil {
			return err
		}
	}
	return nil
}

// walker expands edges under code and class filters, caching entity
// lookups for one traversal.
type walker struct {
	links    LinkSource
	codes    []string
	classes  []string
	entities map[string]*types.Entity
}

func (g *Engine) walker(codes, classes []string) *walker {
	return &walker{links: g.links, codes: codes, classes: classes, entities: make(map[string]*types.Entity)}
}

func (w *walker) entity(id string) (*types.Entity, error) {
	if e, ok := w.entities[id]; ok {
		return e, nil
	}
	e, err := w.links.GetByUUID(id)
	if err != nil {
		return nil, err
	}
	w.entities[id] = e
	return e, nil
}

// edges returns the destinations of id's outgoing links that pass the
// filters, in link order.
func (w *walker) edges(id string) ([]*types.Entity, error) {
	links, err := w.links.GetOutgoingLinks(id)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Entity, 0, len(links))
	for _, l := range links {
		if len(w.codes) > 0 && !slices.Contains(w.codes, l.Code) {
			continue
		}
		dest, err := w.entity(l.DestinationID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if len(w.classes) > 0 && !slices.Contains(w.classes, dest.ClassID) {
			continue
		}
		out = append(out, dest)
	}
	return out, nil
}

func (w *walker) path(ids []string, objects bool) (Path, error) {
	p := Path{IDs: slices.Clone(ids)}
	if !objects {
		return p, nil
	}
	p.Entities = make([]*types.Entity, len(ids))
	for i, id := range ids {
		e, err := w.entity(id)
		if err != nil {
			return Path{}, err
		}
		p.Entities[i] = e
	}
	return p, nil
}
