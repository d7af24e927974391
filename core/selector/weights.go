package selector

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"AutoFM/logger"

	"github.com/fsnotify/fsnotify"
)

// Weights 是相邻曲目兼容性打分的配置。缺省值没有标定数据背书，
// 所以必须可以不改代码直接调：落在JSON文件里并支持热更新。
type Weights struct {
	Tempo  float64 `json:"tempo"`
	Key    float64 `json:"key"`
	Energy float64 `json:"energy"`

	// Threshold 以下的候选会被跳过；RelaxedThreshold 是候选池耗尽后
	// 唯一一次放宽重审用的下限
	Threshold        float64 `json:"threshold"`
	RelaxedThreshold float64 `json:"relaxedThreshold"`
}

// DefaultWeights returns factory-default scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Tempo:            0.5,
		Key:              0.35,
		Energy:           0.15,
		Threshold:        0.45,
		RelaxedThreshold: 0.25,
	}
}

// WeightsStore 持有当前生效的权重，读写并发安全
type WeightsStore struct {
	mu      sync.RWMutex
	path    string
	current Weights
	watcher *fsnotify.Watcher
}

// NewWeightsStore loads weights from path, writing defaults there when
// the file does not exist yet.
func NewWeightsStore(path string) *WeightsStore {
	s := &WeightsStore{path: path, current: DefaultWeights()}
	if err := s.reload(); err != nil {
		if os.IsNotExist(err) {
			if saveErr := s.save(); saveErr != nil {
				logger.Warn("写入默认权重文件失败", logger.String("path", path), logger.ErrorField(saveErr))
			}
		} else {
			logger.Warn("权重文件加载失败，使用默认值", logger.String("path", path), logger.ErrorField(err))
		}
	}
	return s
}

// Current 返回当前生效的权重快照
func (s *WeightsStore) Current() Weights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *WeightsStore) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var w Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Tempo+w.Key+w.Energy <= 0 {
		w = DefaultWeights()
	}
	s.mu.Lock()
	s.current = w
	s.mu.Unlock()
	return nil
}

func (s *WeightsStore) save() error {
	s.mu.RLock()
	w := s.current
	s.mu.RUnlock()

	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Watch 监听权重文件变更并热更新，直到 Close 被调用
func (s *WeightsStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != s.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					logger.Warn("权重热更新失败", logger.ErrorField(err))
					continue
				}
				logger.Info("兼容性打分权重已热更新", logger.String("path", s.path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("权重文件监听错误", logger.ErrorField(err))
			}
		}
	}()
	return nil
}

// Close 停止监听
func (s *WeightsStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
