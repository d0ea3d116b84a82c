package engine

import (
	iface "PoseAssessServer/interface"
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

var ErrEmptyFrame = errors.New("empty frame")

// prepareFrame 长边大于 inputSize 时等比缩小后重新编码为 jpg，返回编码数据与实际宽高。
// 关键点是归一化坐标，缩放不影响结果。
func prepareFrame(frame iface.Frame, inputSize int) ([]byte, int, int, error) {
	if frame.Empty() {
		return nil, 0, 0, ErrEmptyFrame
	}
	if inputSize <= 0 {
		return frame.Data, frame.Width, frame.Height, nil
	}
	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode frame: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, 0, 0, fmt.Errorf("decode frame: %w", ErrEmptyFrame)
	}
	width, height := mat.Cols(), mat.Rows()
	longest := max(width, height)
	if longest <= inputSize {
		return frame.Data, width, height, nil
	}
	scale := float64(inputSize) / float64(longest)
	size := image.Pt(max(1, int(float64(width)*scale)), max(1, int(float64(height)*scale)))
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, size, 0, 0, gocv.InterpolationArea)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, resized)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	data := append([]byte(nil), buf.GetBytes()...)
	return data, size.X, size.Y, nil
}
