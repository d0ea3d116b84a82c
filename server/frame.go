package server

import (
	iface "PoseAssessServer/interface"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"gocv.io/x/gocv"
)

var ErrEmptyImage = errors.New("decoded image is empty or unsupported format")

// decodeBase64 去掉可能的 data URL 前缀
func decodeBase64(b64 string) ([]byte, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
}

// decodeFrame 校验图像可解码并取得尺寸，Data 保留原始编码字节
func decodeFrame(seq uint64, data []byte) (iface.Frame, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return iface.Frame{}, err
	}
	defer mat.Close()
	if mat.Empty() {
		return iface.Frame{}, ErrEmptyImage
	}
	return iface.Frame{
		Seq:       seq,
		Width:     mat.Cols(),
		Height:    mat.Rows(),
		Data:      data,
		Timestamp: time.Now(),
	}, nil
}
