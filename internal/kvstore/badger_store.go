package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/clay-wangzhi/llmd-polaris/pkg/logger"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig Badger 存储配置
type BadgerConfig struct {
	// Path 数据目录，InMemory 为 true 时忽略
	Path string
	// InMemory 不落盘，测试使用
	InMemory bool
	// GCInterval value log 回收间隔，0 表示不回收
	GCInterval time.Duration
}

// BadgerStore 基于嵌入式 BadgerDB 的存储
type BadgerStore struct {
	db     *badger.DB
	cancel context.CancelFunc
}

// badgerLogger 将 Badger 内部日志接入 logger
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger.Error("[badger] " + fmt.Sprintf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warn("[badger] " + fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logger.Debug("[badger] " + fmt.Sprintf(format, args...))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logger.Debug("[badger] " + fmt.Sprintf(format, args...))
}

// OpenBadger 打开 Badger 存储
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger 数据目录不能为空")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("创建 badger 目录失败: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
		if cfg.GCInterval == 0 {
			cfg.GCInterval = 5 * time.Minute
		}
	}
	opts = opts.WithLogger(badgerLogger{}).WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("打开 badger 失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &BadgerStore{db: db, cancel: cancel}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		go s.runGC(ctx, cfg.GCInterval)
	}
	return s, nil
}

// runGC 周期回收 value log
func (s *BadgerStore) runGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// GetItem 读取键值
func (s *BadgerStore) GetItem(key string) (string, bool) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			logger.Warn("读取 badger 记录失败", "key", key, "error", err)
		}
		return "", false
	}
	return string(value), true
}

// SetItem 写入键值
func (s *BadgerStore) SetItem(key, value string) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		logger.Warn("写入 badger 记录失败", "key", key, "error", err)
	}
}

// RemoveItem 删除键值
func (s *BadgerStore) RemoveItem(key string) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		logger.Warn("删除 badger 记录失败", "key", key, "error", err)
	}
}

// Close 关闭存储
func (s *BadgerStore) Close() error {
	s.cancel()
	return s.db.Close()
}
