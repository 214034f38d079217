package schema

import (
	"io"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// Catalog is a YAML file of schema documents:
//
//	schemas:
//	  - name: email
//	    type: email
//	    unique: global
type Catalog struct {
	Schemas []types.SchemaDocument `yaml:"schemas"`
}

// Load reads a catalog from r and saves every document in order. Entries
// that name a version already present are returned as stored, so loading
// the same catalog twice is a no-op.
func (r *Registry) Load(in io.Reader) ([]*types.Schema, error) {
	var cat Catalog
	dec := yaml.NewDecoder(in)
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(types.ErrInvalidData, "decoding catalog: %v", err)
	}

	out := make([]*types.Schema, 0, len(cat.Schemas))
	for i, doc := range cat.Schemas {
		s, err := doc.Schema()
		if err != nil {
			return out, errors.Wrapf(err, "catalog entry %d (%s)", i, doc.Name)
		}
		if s.Version != "" {
			existing, err := r.Resolve(s.Name, s.Version)
			if err == nil {
				out = append(out, existing)
				continue
			}
			if !errors.Is(err, types.ErrNotFound) {
				return out, err
			}
		}
		saved, err := r.Save(s)
		if err != nil {
			return out, errors.Wrapf(err, "catalog entry %d (%s)", i, doc.Name)
		}
		out = append(out, saved)
	}
	r.log.Info("schema catalog loaded", zap.Int("schemas", len(out)))
	return out, nil
}
