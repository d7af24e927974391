package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"AutoFM/config"
	"AutoFM/logger"
	"AutoFM/model"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// 单次搜索拉回的候选页大小。游标耗尽当前页后用 ErrExhausted 收尾，
// 上层的 CandidateCap 才是真正的硬上限。
const searchPageSize = 60

// YtdlpProvider sources candidates from yt-dlp flat search. Search
// pages are cached in-process per genre so repeated mix requests for
// the same genre do not hammer the upstream.
type YtdlpProvider struct {
	cfg         *config.Config
	searchCache *gocache.Cache
}

// NewYtdlpProvider 创建基于 yt-dlp 的曲目来源
func NewYtdlpProvider(cfg *config.Config) *YtdlpProvider {
	return &YtdlpProvider{
		cfg:         cfg,
		searchCache: gocache.New(10*time.Minute, 30*time.Minute),
	}
}

// flatEntry is the subset of yt-dlp's flat-playlist JSON we care about.
type flatEntry struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
	URL      string  `json:"url"`
}

// Search 打开候选游标。同流派的搜索结果在进程内缓存10分钟。
func (p *YtdlpProvider) Search(ctx context.Context, genre string) (Cursor, error) {
	cacheKey := strings.ToLower(genre)
	if cached, ok := p.searchCache.Get(cacheKey); ok {
		items := cached.([]model.TrackDescriptor)
		logger.Debug("搜索命中缓存", logger.String("genre", genre), logger.Int("count", len(items)))
		return NewSliceCursor(items), nil
	}

	items, err := p.searchGenre(ctx, genre)
	if err != nil {
		return nil, err
	}
	p.searchCache.Set(cacheKey, items, gocache.DefaultExpiration)
	return NewSliceCursor(items), nil
}

func (p *YtdlpProvider) searchGenre(ctx context.Context, genre string) ([]model.TrackDescriptor, error) {
	query := fmt.Sprintf("ytsearch%d:%s music mix track", searchPageSize, genre)
	cmd := exec.CommandContext(ctx, p.cfg.YtdlpPath,
		"--flat-playlist",
		"--dump-json",
		"--no-warnings",
		"--match-filter", "duration > 90 & duration < 600",
		query,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Info("开始搜索候选曲目", logger.String("genre", genre))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Error("yt-dlp 搜索失败",
			logger.String("genre", genre),
			logger.String("stderr", truncate(stderr.String(), 400)),
			logger.ErrorField(err))
		return nil, fmt.Errorf("%w: yt-dlp search: %v", ErrProviderUnavailable, err)
	}

	// yt-dlp 的 --dump-json 每行一个条目
	items := make([]model.TrackDescriptor, 0, searchPageSize)
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry flatEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			logger.Warn("跳过无法解析的搜索结果", logger.ErrorField(err))
			continue
		}
		if entry.ID == "" {
			continue
		}
		items = append(items, model.TrackDescriptor{
			ID:        uuid.New().String(),
			Title:     entry.Title,
			Artist:    entry.Uploader,
			Genre:     genre,
			SourceURL: sourceURL(entry),
			Duration:  entry.Duration,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading yt-dlp output: %v", ErrProviderUnavailable, err)
	}

	logger.Info("候选曲目搜索完成", logger.String("genre", genre), logger.Int("count", len(items)))
	return items, nil
}

func sourceURL(entry flatEntry) string {
	if entry.URL != "" {
		return entry.URL
	}
	return "https://www.youtube.com/watch?v=" + entry.ID
}

// Fetch 下载候选音频到 destDir，格式交给后面的解码器统一处理
func (p *YtdlpProvider) Fetch(ctx context.Context, desc model.TrackDescriptor, destDir string) (string, error) {
	if desc.SourceURL == "" {
		return "", fmt.Errorf("%w: descriptor %s has no source URL", ErrProviderUnavailable, desc.ID)
	}
	if destDir == "" {
		destDir = p.cfg.WorkDir
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create fetch dir: %w", err)
	}
	outPath := filepath.Join(destDir, desc.ID+".m4a")

	cmd := exec.CommandContext(ctx, p.cfg.YtdlpPath,
		"-f", "bestaudio[ext=m4a]/bestaudio",
		"--no-playlist",
		"--no-warnings",
		"-o", outPath,
		desc.SourceURL,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn("候选音频下载失败",
			logger.String("trackId", desc.ID),
			logger.String("stderr", truncate(stderr.String(), 400)),
			logger.ErrorField(err))
		return "", fmt.Errorf("%w: fetch %s: %v", ErrProviderUnavailable, desc.ID, err)
	}

	logger.Debug("候选音频下载完成",
		logger.String("trackId", desc.ID),
		logger.String("path", outPath),
		logger.Duration("elapsed", time.Since(start)))
	return outPath, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
