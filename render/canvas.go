package render

import "image/color"

// Canvas 叠加层绘图面，坐标为像素，alpha 取 [0,1]
type Canvas interface {
	Size() (width, height int)
	Resize(width, height int)
	Clear()
	Line(x1, y1, x2, y2 float64, c color.RGBA, width, alpha float64)
	// Circle 实心圆
	Circle(x, y, radius float64, c color.RGBA, alpha float64)
	Text(x, y float64, s string, c color.RGBA, alpha float64)
}

var (
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Red   = color.RGBA{R: 255, A: 255}
	Cyan  = color.RGBA{G: 255, B: 255, A: 255}
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
