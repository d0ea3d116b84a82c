package render

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// kappa 用四段三次贝塞尔逼近圆
const kappa = 0.5522847498

// ImageCanvas 纯 Go 实现的透明叠加层，输出 PNG
type ImageCanvas struct {
	img *image.RGBA
	z   *vector.Rasterizer
}

func NewImageCanvas(width, height int) *ImageCanvas {
	c := &ImageCanvas{}
	c.Resize(width, height)
	return c
}

func (c *ImageCanvas) Size() (int, int) {
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

func (c *ImageCanvas) Resize(width, height int) {
	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
	c.z = vector.NewRasterizer(width, height)
}

func (c *ImageCanvas) Clear() {
	draw.Draw(c.img, c.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

func (c *ImageCanvas) fill(col color.RGBA, alpha float64) {
	src := image.NewUniform(color.NRGBA{R: col.R, G: col.G, B: col.B, A: uint8(math.Round(clamp01(alpha) * float64(col.A)))})
	c.z.Draw(c.img, c.img.Bounds(), src, image.Point{})
}

func (c *ImageCanvas) Line(x1, y1, x2, y2 float64, col color.RGBA, width, alpha float64) {
	dx, dy := x2-x1, y2-y1
	length := math.Hypot(dx, dy)
	if length == 0 {
		c.Circle(x1, y1, width/2, col, alpha)
		return
	}
	nx, ny := -dy/length*width/2, dx/length*width/2
	w, h := c.Size()
	c.z.Reset(w, h)
	c.z.MoveTo(float32(x1+nx), float32(y1+ny))
	c.z.LineTo(float32(x2+nx), float32(y2+ny))
	c.z.LineTo(float32(x2-nx), float32(y2-ny))
	c.z.LineTo(float32(x1-nx), float32(y1-ny))
	c.z.ClosePath()
	c.fill(col, alpha)
}

func (c *ImageCanvas) Circle(x, y, radius float64, col color.RGBA, alpha float64) {
	w, h := c.Size()
	c.z.Reset(w, h)
	k := radius * kappa
	f := func(v float64) float32 { return float32(v) }
	c.z.MoveTo(f(x+radius), f(y))
	c.z.CubeTo(f(x+radius), f(y+k), f(x+k), f(y+radius), f(x), f(y+radius))
	c.z.CubeTo(f(x-k), f(y+radius), f(x-radius), f(y+k), f(x-radius), f(y))
	c.z.CubeTo(f(x-radius), f(y-k), f(x-k), f(y-radius), f(x), f(y-radius))
	c.z.CubeTo(f(x+k), f(y-radius), f(x+radius), f(y-k), f(x+radius), f(y))
	c.z.ClosePath()
	c.fill(col, alpha)
}

func (c *ImageCanvas) Text(x, y float64, s string, col color.RGBA, alpha float64) {
	d := font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(color.NRGBA{R: col.R, G: col.G, B: col.B, A: uint8(math.Round(clamp01(alpha) * float64(col.A)))}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(int(math.Round(x)), int(math.Round(y))),
	}
	d.DrawString(s)
}

func (c *ImageCanvas) Image() *image.RGBA {
	return c.img
}

func (c *ImageCanvas) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
