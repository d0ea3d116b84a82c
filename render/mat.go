package render

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// MatCanvas 直接画在 BGR 帧上，用于生成带骨架的标注图
type MatCanvas struct {
	mat gocv.Mat
}

func NewMatCanvas(width, height int) *MatCanvas {
	return &MatCanvas{mat: gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)}
}

// NewMatCanvasFrom 在帧的副本上绘制，原帧不受影响
func NewMatCanvasFrom(frame gocv.Mat) *MatCanvas {
	return &MatCanvas{mat: frame.Clone()}
}

func (c *MatCanvas) Size() (int, int) {
	return c.mat.Cols(), c.mat.Rows()
}

// Resize 保留原图内容缩放到新尺寸
func (c *MatCanvas) Resize(width, height int) {
	if c.mat.Empty() {
		c.mat.Close()
		c.mat = gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
		return
	}
	dst := gocv.NewMat()
	gocv.Resize(c.mat, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	c.mat.Close()
	c.mat = dst
}

// Clear 标注图以原帧为底，不清空
func (c *MatCanvas) Clear() {}

// blend alpha < 1 时先画在副本上再按权重混合
func (c *MatCanvas) blend(alpha float64, paint func(dst *gocv.Mat)) {
	alpha = clamp01(alpha)
	if alpha >= 1 {
		paint(&c.mat)
		return
	}
	overlay := c.mat.Clone()
	defer overlay.Close()
	paint(&overlay)
	gocv.AddWeighted(overlay, alpha, c.mat, 1-alpha, 0, &c.mat)
}

func pt(x, y float64) image.Point {
	return image.Pt(int(math.Round(x)), int(math.Round(y)))
}

func (c *MatCanvas) Line(x1, y1, x2, y2 float64, col color.RGBA, width, alpha float64) {
	c.blend(alpha, func(dst *gocv.Mat) {
		gocv.Line(dst, pt(x1, y1), pt(x2, y2), col, max(1, int(math.Round(width))))
	})
}

func (c *MatCanvas) Circle(x, y, radius float64, col color.RGBA, alpha float64) {
	c.blend(alpha, func(dst *gocv.Mat) {
		gocv.Circle(dst, pt(x, y), max(1, int(math.Round(radius))), col, -1)
	})
}

func (c *MatCanvas) Text(x, y float64, s string, col color.RGBA, alpha float64) {
	c.blend(alpha, func(dst *gocv.Mat) {
		gocv.PutText(dst, s, pt(x, y), gocv.FontHersheySimplex, 0.4, col, 1)
	})
}

func (c *MatCanvas) Mat() gocv.Mat {
	return c.mat
}

// JPEG 编码当前画面
func (c *MatCanvas) JPEG() ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, c.mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

func (c *MatCanvas) Close() error {
	return c.mat.Close()
}
