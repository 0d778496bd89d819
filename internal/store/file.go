package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore 是基于本地文件的键值存储实现。
//
// 每个键对应 root 目录下的一个文件；写入先落临时文件再 rename，
// 保证读侧永远看不到半写状态。键名做了哈希处理以避免路径注入，
// 原始键保存在文件内容的信封里以支持前缀扫描。
type FileStore struct {
	root string
	mu   sync.Mutex // 仅串行化写入；读走只读快照
}

type fileEnvelope struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// NewFileStore 创建文件存储，目录不存在时自动创建。
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("file store root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.root, hex.EncodeToString(sum[:])+".json")
}

// Get 返回键对应的值。
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		// 文件损坏按不存在处理，同时删掉坏文件
		_ = os.Remove(s.path(key))
		return nil, ErrNotFound
	}
	return env.Value, nil
}

// Put 写入键值：先写临时文件，再原子 rename 到目标路径。
func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	data, err := json.Marshal(fileEnvelope{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("marshal store envelope: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename store file: %w", err)
	}
	return nil
}

// Delete 删除键。
func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove store file: %w", err)
	}
	return nil
}

// Keys 扫描目录并返回所有以 prefix 开头的键。
func (s *FileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, entry.Name()))
		if err != nil {
			continue
		}
		var env fileEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if strings.HasPrefix(env.Key, prefix) {
			keys = append(keys, env.Key)
		}
	}
	return keys, nil
}
