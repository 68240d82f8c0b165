package frame

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Downsample resizes an 8-bit mono image into dst using bilinear
// interpolation. Both buffers are row-major with no padding.
//
// Integer reduction factors take a direct path: sampling at pixel centres
// lands halfway between the two middle source pixels of each block, so the
// result is the mean of the central 2x2 block.
func Downsample(dst []byte, dstW, dstH int, src []byte, srcW, srcH int) error {
	if len(src) < srcW*srcH {
		return fmt.Errorf("source buffer %d bytes, want %d", len(src), srcW*srcH)
	}
	if len(dst) < dstW*dstH {
		return fmt.Errorf("destination buffer %d bytes, want %d", len(dst), dstW*dstH)
	}
	if dstW <= 0 || dstH <= 0 || srcW <= 0 || srcH <= 0 {
		return fmt.Errorf("invalid geometry %dx%d -> %dx%d", srcW, srcH, dstW, dstH)
	}

	if srcW == dstW && srcH == dstH {
		copy(dst, src[:srcW*srcH])
		return nil
	}

	if srcW%dstW == 0 && srcH%dstH == 0 && srcW/dstW == srcH/dstH && srcW/dstW%2 == 0 {
		downsampleEven(dst, dstW, dstH, src, srcW, srcW/dstW)
		return nil
	}

	srcImg := &image.Gray{Pix: src, Stride: srcW, Rect: image.Rect(0, 0, srcW, srcH)}
	dstImg := &image.Gray{Pix: dst, Stride: dstW, Rect: image.Rect(0, 0, dstW, dstH)}
	draw.BiLinear.Scale(dstImg, dstImg.Rect, srcImg, srcImg.Rect, draw.Src, nil)
	return nil
}

// downsampleEven handles an even integer factor k.
func downsampleEven(dst []byte, dstW, dstH int, src []byte, srcW, k int) {
	off := k/2 - 1
	for y := range dstH {
		r0 := (y*k + off) * srcW
		r1 := r0 + srcW
		row := dst[y*dstW : (y+1)*dstW]
		for x := range row {
			c := x*k + off
			sum := uint(src[r0+c]) + uint(src[r0+c+1]) + uint(src[r1+c]) + uint(src[r1+c+1])
			row[x] = byte((sum + 2) / 4)
		}
	}
}
