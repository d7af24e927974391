package mixer

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"AutoFM/config"
	"AutoFM/logger"

	"github.com/robfig/cron/v3"
)

// 流水线结束时会删掉自己的下载子目录；进程崩溃留下的目录和散落的
// 音频文件交给janitor按修改时间扫掉。

// staleAfter 之前修改过的临时文件视为遗留垃圾
const staleAfter = 6 * time.Hour

// Janitor 定时清理工作目录里的遗留音频文件
type Janitor struct {
	cfg  *config.Config
	cron *cron.Cron
}

// NewJanitor 创建清理器
func NewJanitor(cfg *config.Config) *Janitor {
	return &Janitor{cfg: cfg, cron: cron.New()}
}

// Start schedules the hourly sweep. Runs one sweep immediately so a
// restart does not wait an hour to reclaim disk.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc("@hourly", j.sweep); err != nil {
		return err
	}
	j.cron.Start()
	go j.sweep()
	return nil
}

// Stop 停止调度
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Janitor) sweep() {
	entries, err := os.ReadDir(j.cfg.WorkDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("清理工作目录失败", logger.String("dir", j.cfg.WorkDir), logger.ErrorField(err))
		}
		return
	}

	cutoff := time.Now().Add(-staleAfter)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			if !strings.HasPrefix(entry.Name(), "mix-") {
				continue
			}
		} else if !isAudioFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.cfg.WorkDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("删除遗留文件失败", logger.String("path", path), logger.ErrorField(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("遗留音频清理完成", logger.Int("removed", removed))
	}
}

// isAudioFile 只认音频后缀，权重等配置文件不归janitor管
func isAudioFile(name string) bool {
	switch filepath.Ext(name) {
	case ".m4a", ".mp3", ".webm", ".opus", ".wav", ".ogg":
		return true
	default:
		return false
	}
}
