package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	stateFileName = "last_rebalance.json"
	lockFileName  = "rebalancer.lock"

	lockWait     = 30 * time.Second
	lockInterval = 250 * time.Millisecond
)

// Store 上次再平衡时间戳的持久化存储
//
// 唯一的持久化实体。只在周期状态为complete时写入 (由引擎保证)。
type Store struct {
	dir string
}

// NewStore 创建状态存储
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

type stateFile struct {
	Timestamp time.Time `json:"timestamp"`
}

// Load 读取上次再平衡时间, 文件不存在表示从未再平衡过
func (s *Store) Load() (*time.Time, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, stateFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &sf.Timestamp, nil
}

// Save 原子写入上次再平衡时间: 先写临时文件并fsync, 再原子重命名,
// 避免半写状态被当作有效数据读到
func (s *Store) Save(t time.Time) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.Marshal(stateFile{Timestamp: t})
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	target := filepath.Join(s.dir, stateFileName)
	tmp := filepath.Join(s.dir, "."+stateFileName+".tmp")

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Lock 周期级排他锁, 序列化对状态的并发访问
// (定时任务与手动调用重叠时防止两个周期同时判定可再平衡而重复交易)
type Lock struct {
	fl *flock.Flock
}

// NewLock 创建锁
func NewLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Lock{fl: flock.New(filepath.Join(dir, lockFileName))}, nil
}

// Acquire 在有限等待内获取排他锁, 超时报错而非无限阻塞
func (l *Lock) Acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()

	ok, err := l.fl.TryLockContext(ctx, lockInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("could not acquire state lock within %s: another rebalancer may be running", lockWait)
		}
		return fmt.Errorf("failed to acquire state lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("could not acquire state lock within %s: another rebalancer may be running", lockWait)
	}
	return nil
}

// Release 释放锁
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
