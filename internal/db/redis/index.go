package redis

import (
	"context"
	"errors"
	"strconv"

	"ragdex/internal/db"
)

// CreateIndex creates an FT index from the given definition.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	args, err := buildCreateArgs(def)
	if err != nil {
		return err
	}

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return db.ErrIndexExists
		}
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	return nil
}

// DropIndex removes an FT index by name.
func (s *Store) DropIndex(ctx context.Context, name string) error {
	cmd := s.b().Arbitrary("FT.DROPINDEX").Args(name).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") {
			return db.ErrIndexNotFound
		}
		return &db.Error{Op: db.OpDropIndex, Err: err}
	}
	return nil
}

// IndexExists probes index existence via FT.INFO; "unknown index name" means absent.
func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") {
			return false, nil
		}
		return false, &db.Error{Op: db.OpIndexInfo, Err: err}
	}
	return true, nil
}

func buildCreateArgs(idx *db.IndexDefinition) ([]string, error) {
	if idx.Name == "" {
		return nil, errors.New("index name is required")
	}
	if len(idx.Fields) == 0 {
		return nil, errors.New("at least one field is required")
	}

	args := []string{idx.Name, "ON", "HASH"}

	if len(idx.Prefixes) > 0 {
		args = append(args, "PREFIX", strconv.Itoa(len(idx.Prefixes)))
		args = append(args, idx.Prefixes...)
	}

	args = append(args, "SCHEMA")

	for i := range idx.Fields {
		fieldArgs, err := buildFieldArgs(&idx.Fields[i])
		if err != nil {
			return nil, err
		}
		args = append(args, fieldArgs...)
	}

	return args, nil
}

func buildFieldArgs(f *db.IndexField) ([]string, error) {
	switch f.Type {
	case db.IndexFieldNumeric:
		return []string{f.Name, "NUMERIC"}, nil

	case db.IndexFieldTag:
		return []string{f.Name, "TAG"}, nil

	case db.IndexFieldVector:
		if f.VectorDim <= 0 {
			return nil, errors.New("vector field requires positive DIM")
		}

		distance := f.VectorDistance
		if distance == "" {
			distance = db.DistanceCosine
		}

		switch f.VectorAlgo {
		case db.VectorFlat:
			return []string{
				f.Name, "VECTOR", "FLAT", "6",
				"TYPE", "FLOAT32",
				"DIM", strconv.Itoa(f.VectorDim),
				"DISTANCE_METRIC", string(distance),
			}, nil
		case db.VectorHNSW, "":
			params := []string{
				f.Name, "VECTOR", "HNSW",
			}
			opts := []string{
				"TYPE", "FLOAT32",
				"DIM", strconv.Itoa(f.VectorDim),
				"DISTANCE_METRIC", string(distance),
			}
			if f.VectorM > 0 {
				opts = append(opts, "M", strconv.Itoa(f.VectorM))
			}
			if f.VectorEFConstruct > 0 {
				opts = append(opts, "EF_CONSTRUCTION", strconv.Itoa(f.VectorEFConstruct))
			}
			params = append(params, strconv.Itoa(len(opts)))
			params = append(params, opts...)
			return params, nil
		default:
			return nil, errors.New("unknown vector algorithm: " + string(f.VectorAlgo))
		}

	default:
		return nil, errors.New("unknown field type for " + f.Name)
	}
}
