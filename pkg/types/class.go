package types

import (
	"strings"
	"time"
)

// EntityClass is a node in the class tree. Path caches the ancestor chain as
// "/<root-id>/.../<own-id>/" and is recomputed for the subtree on reparent.
type EntityClass struct {
	ClassID     string    `json:"class_id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ClassPath returns the cached path of a class with the given ID under a
// parent path. An empty parent path makes the class a root.
func ClassPath(parentPath, classID string) string {
	if parentPath == "" {
		parentPath = "/"
	}
	return parentPath + classID + "/"
}

// Lineage returns the class IDs on the path ordered root to leaf, including
// the class itself.
func (c *EntityClass) Lineage() []string {
	parts := strings.Split(strings.Trim(c.Path, "/"), "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AncestorIDs returns the ancestor class IDs ordered root to parent.
func (c *EntityClass) AncestorIDs() []string {
	lineage := c.Lineage()
	if len(lineage) == 0 {
		return nil
	}
	return lineage[:len(lineage)-1]
}

// IsAncestorOf reports whether c is a strict ancestor of other.
func (c *EntityClass) IsAncestorOf(other *EntityClass) bool {
	return c.ClassID != other.ClassID && strings.HasPrefix(other.Path, c.Path)
}

// ClassSchema binds a schema version to an entity class.
type ClassSchema struct {
	LinkID    string    `json:"link_id"`
	ClassID   string    `json:"class_id"`
	SchemaID  string    `json:"schema_id"`
	CreatedAt time.Time `json:"created_at"`
}
