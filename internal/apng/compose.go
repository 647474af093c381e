package apng

import "image"

// Compositing here works on straight (non-premultiplied) alpha so that frame
// pixels survive decode unchanged.

func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

// clip narrows r to dst and shifts the source point by the same amount.
func clip(dst *image.NRGBA, r image.Rectangle, sp image.Point) (image.Rectangle, image.Point) {
	clipped := r.Intersect(dst.Rect)
	return clipped, sp.Add(clipped.Min.Sub(r.Min))
}

// copyRegion copies the pixels of src starting at sp into dst within r.
func copyRegion(dst *image.NRGBA, r image.Rectangle, src *image.NRGBA, sp image.Point) {
	r, sp = clip(dst, r, sp)
	width := r.Dx() * 4
	for y := r.Min.Y; y < r.Max.Y; y++ {
		d := dst.PixOffset(r.Min.X, y)
		s := src.PixOffset(sp.X, sp.Y+(y-r.Min.Y))
		copy(dst.Pix[d:d+width], src.Pix[s:s+width])
	}
}

func clearRegion(dst *image.NRGBA, r image.Rectangle) {
	r = r.Intersect(dst.Rect)
	width := r.Dx() * 4
	for y := r.Min.Y; y < r.Max.Y; y++ {
		d := dst.PixOffset(r.Min.X, y)
		clear(dst.Pix[d : d+width])
	}
}

// blendOver draws src over dst within r using the APNG_BLEND_OP_OVER rule.
func blendOver(dst *image.NRGBA, r image.Rectangle, src *image.NRGBA, sp image.Point) {
	r, sp = clip(dst, r, sp)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			s := src.PixOffset(sp.X+(x-r.Min.X), sp.Y+(y-r.Min.Y))
			d := dst.PixOffset(x, y)
			sPix, dPix := src.Pix[s:s+4:s+4], dst.Pix[d:d+4:d+4]

			sa := uint32(sPix[3])
			switch sa {
			case 0:
				continue
			case 0xff:
				copy(dPix, sPix)
				continue
			}

			da := uint32(dPix[3])
			// Alpha scaled by 255: sa*255 + da*(255-sa).
			outA := sa*0xff + da*(0xff-sa)
			for i := 0; i < 3; i++ {
				num := uint32(sPix[i])*sa*0xff + uint32(dPix[i])*da*(0xff-sa)
				dPix[i] = uint8((num + outA/2) / outA)
			}
			dPix[3] = uint8((outA + 0x7f) / 0xff)
		}
	}
}
