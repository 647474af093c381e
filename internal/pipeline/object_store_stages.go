package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/hueshift/internal/domain"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

// ObjectStore is the subset of the storage client the object stages need.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, SourceTypeS3Presigned) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, variant domain.Variant, out Rendition) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(variant.ID) == "" {
		return Output{}, errors.New("variant id is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		sanitizePathToken(variant.ID)+".png",
	)
	if err := e.Storage.WriteObject(ctx, objectKey, out.Data, out.Kind.ContentType()); err != nil {
		return Output{}, err
	}
	return newOutput(variant, objectKey, out), nil
}

func NewObjectStoreProcessor(recolorer *Recolorer, store ObjectStore, outputPrefix string) (*Processor, error) {
	if recolorer == nil {
		return nil, errors.New("recolorer is required")
	}
	if store == nil {
		return nil, errors.New("storage client is required")
	}
	return NewProcessor(
		ObjectStoreFetcher{Storage: store},
		recolorer,
		ObjectStoreEmitter{Storage: store, OutputPrefix: outputPrefix},
	), nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
