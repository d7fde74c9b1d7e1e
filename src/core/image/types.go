package image

// Info 图片检测结果
type Info struct {
	Format string // 实际格式：jpeg, png, gif, webp, bmp, tiff
	Width  int    // 图片宽度
	Height int    // 图片高度
	Size   int64  // 文件大小
}

// MimeType 返回图片的MIME类型
func (i Info) MimeType() string {
	return "image/" + i.Format
}
