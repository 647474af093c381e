package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/hueshift/internal/apng"
	"github.com/dunamismax/hueshift/internal/domain"
)

var (
	ErrOrphanFrameControl = errors.New("frame control chunks without an animation control chunk")
	ErrPartialFrames      = errors.New("animation rendered with dropped frames")
	ErrPanic              = errors.New("recolor panicked")
)

type Kind int

const (
	KindStatic Kind = iota
	KindAnimated
)

func (k Kind) String() string {
	if k == KindAnimated {
		return "animated"
	}
	return "static"
}

func (k Kind) ContentType() string {
	if k == KindAnimated {
		return "image/apng"
	}
	return "image/png"
}

// Classify picks the processing path for a payload. Anything that is not a
// PNG stream carrying acTL goes down the static path.
func Classify(data []byte) Kind {
	if apng.IsAnimated(data) {
		return KindAnimated
	}
	return KindStatic
}

// Rendition is the outcome of a recolor. When Modified is false, Data holds
// the caller's original bytes and Err records why processing gave up.
type Rendition struct {
	Data     []byte
	Kind     Kind
	Width    int
	Height   int
	Frames   int
	Modified bool
	Err      error
}

type Transformer interface {
	Transform(ctx context.Context, input []byte, adj domain.Adjustment) Rendition
}

type Stage string

const (
	StageDecode  Stage = "decode"
	StageRecolor Stage = "recolor"
	StageEncode  Stage = "encode"
)

type PipelineError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, kind Kind, err error) error {
	return &PipelineError{Stage: stage, Kind: kind, Err: err}
}
