package image

import (
	"bytes"
	"fmt"
	"image"

	_ "image/gif"  // 注册GIF解码器
	_ "image/jpeg" // 注册JPEG解码器
	_ "image/png"  // 注册PNG解码器

	_ "golang.org/x/image/bmp"  // 注册BMP解码器
	_ "golang.org/x/image/tiff" // 注册TIFF解码器
	_ "golang.org/x/image/webp" // 注册WEBP解码器
)

// 图片格式魔数签名
var imageSignatures = []struct {
	format    string
	signature []byte
}{
	{"jpeg", []byte{0xFF, 0xD8}},
	{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{"gif", []byte("GIF87a")},
	{"gif", []byte("GIF89a")},
	{"bmp", []byte{0x42, 0x4D}},
	{"tiff", []byte{0x49, 0x49, 0x2A, 0x00}},
	{"tiff", []byte{0x4D, 0x4D, 0x00, 0x2A}},
}

// DetectFormat 根据文件头检测图片格式，无法识别时返回空字符串
func DetectFormat(data []byte) string {
	// WEBP: RIFF....WEBP
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return "webp"
	}
	for _, s := range imageSignatures {
		if bytes.HasPrefix(data, s.signature) {
			return s.format
		}
	}
	return ""
}

// Extension 返回用于临时文件的扩展名
func Extension(data []byte) string {
	switch format := DetectFormat(data); format {
	case "":
		return ".bin"
	case "jpeg":
		return ".jpg"
	default:
		return "." + format
	}
}

// Inspect 解码图片头部获取格式与尺寸，数据不是可解码的图片时返回错误
func Inspect(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, fmt.Errorf("图片数据为空")
	}

	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("图片解码失败(文件头: %x): %w", data[:min(len(data), 16)], err)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return Info{}, fmt.Errorf("无效的图片尺寸: %dx%d", config.Width, config.Height)
	}

	return Info{
		Format: format,
		Width:  config.Width,
		Height: config.Height,
		Size:   int64(len(data)),
	}, nil
}
