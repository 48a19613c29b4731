package render

import (
	"image"

	"deedles.dev/ximage/geom"
)

// ToBGRA copies the given rectangles of src into a little endian ARGB8888
// buffer as the compositor reads it. Pixels outside rects are left alone
func ToBGRA(dst []byte, stride int, src *image.RGBA, rects []geom.Rect[int]) {
	bounds := src.Bounds()
	for _, r := range rects {
		ir := r.ImageRect().Intersect(bounds)
		for y := ir.Min.Y; y < ir.Max.Y; y++ {
			in := src.Pix[src.PixOffset(ir.Min.X, y):src.PixOffset(ir.Max.X, y)]
			off := y*stride + ir.Min.X*4
			out := dst[off : off+len(in)]
			for x := 0; x < len(in); x += 4 {
				out[x+0] = in[x+2]
				out[x+1] = in[x+1]
				out[x+2] = in[x+0]
				out[x+3] = in[x+3]
			}
		}
	}
}
