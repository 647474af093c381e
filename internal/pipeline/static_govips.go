//go:build govips && cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/dunamismax/hueshift/internal/apng"
	"github.com/dunamismax/hueshift/internal/domain"
	"github.com/dunamismax/hueshift/internal/tint"
)

type govipsBackend struct{}

func (govipsBackend) Recolor(ctx context.Context, input []byte, adj domain.Adjustment) (staticImage, error) {
	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return staticImage{}, stageError(StageDecode, KindStatic, fmt.Errorf("decode source image: %w", err))
	}
	defer img.Close()

	if err := ctx.Err(); err != nil {
		return staticImage{}, stageError(StageRecolor, KindStatic, err)
	}
	if !img.HasAlpha() {
		if err := img.AddAlpha(); err != nil {
			return staticImage{}, stageError(StageRecolor, KindStatic, fmt.Errorf("add alpha: %w", err))
		}
	}

	brightness := math.Max(0, 1+float64(adj.Brightness)/100)
	saturation := math.Max(0, 1+float64(adj.Saturation)/100)
	if err := img.Modulate(brightness, saturation, float64(adj.Hue)); err != nil {
		return staticImage{}, stageError(StageRecolor, KindStatic, fmt.Errorf("modulate: %w", err))
	}

	if overlay := overlayFor(adj); overlay.Active() {
		if err := compositeGovipsOverlay(img, overlay); err != nil {
			return staticImage{}, stageError(StageRecolor, KindStatic, err)
		}
	}

	data, err := exportGovipsPNG(img)
	if err != nil {
		return staticImage{}, stageError(StageEncode, KindStatic, err)
	}
	return staticImage{Data: data, Width: img.Width(), Height: img.Height()}, nil
}

func (govipsBackend) Reencode(input []byte) ([]byte, error) {
	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()
	return exportGovipsPNG(img)
}

func compositeGovipsOverlay(img *vips.ImageRef, overlay tint.Overlay) error {
	var buf bytes.Buffer
	if err := apng.EncodePNG(&buf, overlay.Solid(image.Rect(0, 0, img.Width(), img.Height()))); err != nil {
		return fmt.Errorf("encode overlay layer: %w", err)
	}
	layer, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return fmt.Errorf("load overlay layer: %w", err)
	}
	defer layer.Close()

	if err := img.Composite(layer, vips.BlendModeAtop, 0, 0); err != nil {
		return fmt.Errorf("composite overlay: %w", err)
	}
	return nil
}

func exportGovipsPNG(img *vips.ImageRef) ([]byte, error) {
	params := vips.NewPngExportParams()
	params.Compression = apng.CompressionLevel
	params.Filter = vips.PngFilterAll
	params.Palette = false
	params.StripMetadata = true

	data, _, err := img.ExportPng(params)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return data, nil
}
