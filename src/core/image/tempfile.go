package image

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// NewTempImage生成的文件名：img_<纳秒时间戳>_<uuid>.<扩展名>
var tempImageName = regexp.MustCompile(`^img_\d+_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.[a-z]+$`)

// TempImage 单次请求独占的临时图片文件
type TempImage struct {
	path     string
	released bool
}

// NewTempImage 在dir下创建唯一命名的临时文件并原样写入data
func NewTempImage(dir string, data []byte) (*TempImage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}

	name := fmt.Sprintf("img_%d_%s%s", time.Now().UnixNano(), uuid.New().String(), Extension(data))
	path := filepath.Join(dir, name)

	// O_EXCL保证不会与其他请求共用同一路径
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("创建临时文件失败: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("关闭临时文件失败: %w", err)
	}

	return &TempImage{path: path}, nil
}

// Path 返回临时文件路径
func (t *TempImage) Path() string {
	return t.path
}

// Release 删除临时文件，可重复调用
func (t *TempImage) Release() error {
	if t == nil || t.released {
		return nil
	}
	t.released = true
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除临时文件失败(%s): %w", t.path, err)
	}
	return nil
}

// CleanupStale 删除dir中早于maxAge的临时图片，返回删除数量
// 用于启动时回收进程异常退出遗留的文件，不是NewTempImage创建的文件不会被删除
func CleanupStale(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("读取临时目录失败: %w", err)
	}

	now := time.Now()
	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || !tempImageName.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				cleaned++
			}
		}
	}
	return cleaned, nil
}
