package entity

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// DestroyEntity deletes an entity. Without force it fails with
// ErrHasIncomingLinks while another entity links to it. With force every
// incoming relation attribute loses its values and destination and is
// tombstoned, the entity's own attributes are deleted, the targets of its
// outgoing links are destroyed the same way, and finally the entity row is
// removed. Entities that are already gone are skipped, so a cascade
// interrupted halfway can be run again.
func (s *Store) DestroyEntity(ctx context.Context, id string, force bool) error {
	return s.destroy(ctx, id, force, make(map[string]bool))
}

func (s *Store) destroy(ctx context.Context, id string, force bool, visited map[string]bool) error {
	if visited[id] {
		return nil
	}
	visited[id] = true
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.GetByUUID(id); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}

	incoming, err := s.fetchAttributes(types.Filter{"destination_id": id, "is_relation": true, "deleted": false})
	if err != nil {
		return err
	}
	external := incoming[:0]
	for _, a := range incoming {
		if a.EntityID != id {
			external = append(external, a)
		}
	}
	if len(external) > 0 && !force {
		return errors.WithHint(
			errors.Wrapf(types.ErrHasIncomingLinks, "entity %s has %d incoming link(s)", id, len(external)),
			"destroy with force to unlink and cascade")
	}
	for _, a := range external {
		if err := s.detach(a); err != nil {
			return errors.Wrapf(err, "unlinking %s.%s", a.EntityID, a.Code)
		}
	}

	own, err := s.fetchAttributes(types.Filter{"entity_id": id})
	if err != nil {
		return err
	}
	var targets []string
	for _, a := range own {
		if a.IsRelation && !a.Deleted && a.DestinationID != "" && a.DestinationID != id {
			targets = append(targets, a.DestinationID)
		}
		if err := s.attributes.Delete(a.AttributeID); err != nil && !errors.Is(err, types.ErrNotFound) {
			return err
		}
	}

	for _, target := range targets {
		if err := s.destroy(ctx, target, true, visited); err != nil {
			return errors.Wrapf(err, "cascading to %s", target)
		}
	}

	if err := s.entities.Delete(id); err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}
	s.log.Debug("entity destroyed",
		zap.String("entity", id),
		zap.Int("unlinked", len(external)),
		zap.Int("cascaded", len(targets)),
	)
	return nil
}

// detach deletes the values of an incoming relation attribute, clears its
// destination and tombstones it.
func (s *Store) detach(a *types.Attribute) error {
	vals, err := s.fetchValues(types.Filter{"attribute_id": a.AttributeID})
	if err != nil {
		return err
	}
	for _, v := range vals {
		if err := s.values.Delete(v.ValueID); err != nil && !errors.Is(err, types.ErrNotFound) {
			return err
		}
	}
	a.DestinationID = ""
	a.Deleted = true
	_, err = s.attributes.Set(a.AttributeID, a)
	return err
}
