package entity

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// GetOutgoingLinks returns the live relation attributes of entityID that
// point at an existing entity, ordered by code.
func (s *Store) GetOutgoingLinks(entityID string) ([]types.Link, error) {
	attrs, err := s.fetchAttributes(types.Filter{"entity_id": entityID, "is_relation": true, "deleted": false})
	if err != nil {
		return nil, err
	}
	return links(attrs), nil
}

// GetIncomingLinks returns the live relation attributes of any entity that
// point at entityID.
func (s *Store) GetIncomingLinks(entityID string) ([]types.Link, error) {
	attrs, err := s.fetchAttributes(types.Filter{"destination_id": entityID, "is_relation": true, "deleted": false})
	if err != nil {
		return nil, err
	}
	return links(attrs), nil
}

// HasDirectLinkTo reports whether sourceID holds a live relation to targetID,
// through the attribute code when code is not empty.
func (s *Store) HasDirectLinkTo(sourceID, targetID, code string) (bool, error) {
	out, err := s.GetOutgoingLinks(sourceID)
	if err != nil {
		return false, err
	}
	for _, l := range out {
		if l.DestinationID == targetID && (code == "" || l.Code == code) {
			return true, nil
		}
	}
	return false, nil
}

func links(attrs []*types.Attribute) []types.Link {
	out := make([]types.Link, 0, len(attrs))
	for _, a := range attrs {
		if a.DestinationID == "" {
			continue
		}
		out = append(out, types.Link{
			AttributeID:   a.AttributeID,
			Code:          a.Code,
			SourceID:      a.EntityID,
			DestinationID: a.DestinationID,
		})
	}
	return out
}

// Link points the relation attribute code of sourceID at destID, creating
// the attribute from the source class's effective schema named code when the
// entity does not have it yet.
func (s *Store) Link(ctx context.Context, sourceID, code, destID string) (*types.Attribute, error) {
	src, err := s.GetByUUID(sourceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetByUUID(destID); err != nil {
		return nil, errors.Wrap(err, "link destination")
	}

	a, err := s.Attribute(sourceID, code)
	switch {
	case err == nil:
		if !a.IsRelation {
			return nil, errors.Wrapf(types.ErrConflict, "attribute %s is not a relation", code)
		}
		return a, s.relink(a, destID)
	case !errors.Is(err, types.ErrNotFound):
		return nil, err
	}

	set, err := s.source.EffectiveSchemas(src.ClassID)
	if err != nil {
		return nil, err
	}
	for _, sch := range set {
		if sch.Name != code {
			continue
		}
		if !sch.IsRelation {
			return nil, errors.Wrapf(types.ErrConflict, "schema %s is not a relation", code)
		}
		a := &types.Attribute{EntityID: sourceID, Code: code, DestinationID: destID}
		a.BindSchema(sch)
		if _, err := s.attributes.Set("", a); err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, errors.WithHint(
		errors.Wrapf(types.ErrNotFound, "relation schema %s on class %s", code, src.ClassID),
		"attach the relation schema to the class first")
}

// Unlink tombstones the relation attribute code of sourceID.
func (s *Store) Unlink(ctx context.Context, sourceID, code string) error {
	a, err := s.Attribute(sourceID, code)
	if err != nil {
		return err
	}
	if !a.IsRelation {
		return errors.Wrapf(types.ErrConflict, "attribute %s is not a relation", code)
	}
	return s.tombstone(a)
}

func (s *Store) relink(a *types.Attribute, destID string) error {
	if a.DestinationID == destID {
		return nil
	}
	if _, err := s.GetByUUID(destID); err != nil {
		return errors.Wrap(err, "link destination")
	}
	a.DestinationID = destID
	_, err := s.attributes.Set(a.AttributeID, a)
	return err
}

// SearchByAttribute returns the entities of classID whose live attribute
// code holds value. Payloads compare by their JSON encoding, so 42 and "42"
// differ. Relation attributes match on their destination UUID. An empty
// classID searches every class.
func (s *Store) SearchByAttribute(classID, code string, value any) ([]*types.Entity, error) {
	vals, err := s.fetchValues(types.Filter{"code": code, "value": value})
	if err != nil {
		return nil, err
	}
	attrIDs := make([]string, 0, len(vals))
	for _, v := range vals {
		attrIDs = append(attrIDs, v.AttributeID)
	}

	var entityIDs []string
	if len(attrIDs) > 0 {
		live, err := s.fetchAttributes(types.Filter{"ids": dedupe(attrIDs), "deleted": false})
		if err != nil {
			return nil, err
		}
		for _, a := range live {
			entityIDs = append(entityIDs, a.EntityID)
		}
	}
	if dest, ok := value.(string); ok && dest != "" {
		rel, err := s.fetchAttributes(types.Filter{
			"code":           code,
			"destination_id": dest,
			"is_relation":    true,
			"deleted":        false,
		})
		if err != nil {
			return nil, err
		}
		for _, a := range rel {
			entityIDs = append(entityIDs, a.EntityID)
		}
	}
	return s.entitiesByID(entityIDs, classID)
}

// SearchRelatedTo returns the entities of classID with a live relation to
// targetID, through the attribute code via when it is not empty.
func (s *Store) SearchRelatedTo(classID, targetID, via string) ([]*types.Entity, error) {
	filter := types.Filter{"destination_id": targetID, "is_relation": true, "deleted": false}
	if via != "" {
		filter["code"] = via
	}
	attrs, err := s.fetchAttributes(filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(attrs))
	for i, a := range attrs {
		ids[i] = a.EntityID
	}
	return s.entitiesByID(ids, classID)
}
