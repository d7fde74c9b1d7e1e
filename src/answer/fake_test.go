package answer

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"vqa-server-go/src/configs"
	"vqa-server-go/src/core/providers/vqa"
	"vqa-server-go/src/core/utils"

	"go.uber.org/zap/zaptest"
)

// fakeProvider 默认把图片内容原样作为答案返回，便于验证请求之间互不干扰
type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	paths    []string
	tokens   []int
	inflight int32
	peak     int32
	answerFn func(ctx context.Context, data []byte, question string) ([]vqa.Candidate, error)
}

func (f *fakeProvider) Load(ctx context.Context) error { return nil }

func (f *fakeProvider) Answer(ctx context.Context, imagePath string, question string, maxNewTokens int) ([]vqa.Candidate, error) {
	n := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	f.paths = append(f.paths, imagePath)
	f.tokens = append(f.tokens, maxNewTokens)
	f.mu.Unlock()

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}
	if f.answerFn != nil {
		return f.answerFn(ctx, data, question)
	}
	return []vqa.Candidate{{Answer: string(data), Score: 1}}, nil
}

func (f *fakeProvider) Cleanup() error { return nil }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) seenPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func testLogger(t *testing.T) *utils.Logger {
	return utils.NewZapLogger(zaptest.NewLogger(t))
}

func newTestService(t *testing.T, provider vqa.Provider, opts Options) *Service {
	t.Helper()
	if opts.TempDir == "" {
		opts.TempDir = t.TempDir()
	}
	if opts.MaxNewTokens == 0 {
		opts.MaxNewTokens = 20
	}
	if opts.ProviderName == "" {
		opts.ProviderName = "fake"
	}
	if opts.ModelName == "" {
		opts.ModelName = "fake/vqa"
	}
	return NewService(provider, opts, testLogger(t))
}

func testConfig() *configs.Config {
	config := configs.DefaultConfig()
	config.Server.MaxUploadSize = 1024 * 1024
	return config
}
