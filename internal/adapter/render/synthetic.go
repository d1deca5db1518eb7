package render

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"
)

const syntheticPageSize = 64

var (
	syntheticOnce sync.Once
	syntheticPNG  []byte
)

// syntheticErrorPage returns a small flat-colored PNG standing in for a page
// the renderer could not produce (spec §4.2). Its content carries no
// information; RenderPages reports it as synthetic, and callers classify the
// document as UNKNOWN without sending the page to the LLM.
func syntheticErrorPage() []byte {
	syntheticOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, syntheticPageSize, syntheticPageSize))
		draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff}}, image.Point{}, draw.Src)

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			panic("render: failed to encode synthetic error page: " + err.Error())
		}
		syntheticPNG = buf.Bytes()
	})
	return syntheticPNG
}
