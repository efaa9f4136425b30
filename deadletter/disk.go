package deadletter

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/magic-lib/go-plat-savequeue/savequeue"
	"github.com/magic-lib/go-plat-utils/conv"
	"github.com/peterbourgon/diskv"
)

const defaultCacheSizeMax = 1024 * 1024

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// DiskRecord 落盘的死信内容，用于人工排查
type DiskRecord[V any] struct {
	Key      string    `json:"key"`
	Payload  V         `json:"payload"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	Time     time.Time `json:"time"`
}

// DiskSinkConfig xxx
type DiskSinkConfig struct {
	BasePath     string `json:"base_path"`
	CacheSizeMax uint64 `json:"cache_size_max"`
}

// DiskSink 基于 diskv 的死信，每条死信一个文件
type DiskSink[V any] struct {
	d   *diskv.Diskv
	now func() time.Time
}

// NewDiskSink 新建 diskSink
func NewDiskSink[V any](cfg *DiskSinkConfig) (*DiskSink[V], error) {
	if cfg == nil || cfg.BasePath == "" {
		return nil, errors.New("deadletter: base path is required")
	}
	if cfg.CacheSizeMax == 0 {
		cfg.CacheSizeMax = defaultCacheSizeMax
	}
	d := diskv.New(diskv.Options{
		BasePath:     cfg.BasePath,
		Transform:    func(string) []string { return []string{} },
		CacheSizeMax: cfg.CacheSizeMax,
	})
	return &DiskSink[V]{d: d, now: time.Now}, nil
}

// DeadLetter 写入一条死信
func (s *DiskSink[V]) DeadLetter(entry *savequeue.Entry[V], cause error) error {
	if entry == nil {
		return savequeue.ErrNilEntry
	}
	record := DiskRecord[V]{
		Key:      entry.Key,
		Payload:  entry.Payload,
		Attempts: entry.Attempts(),
		Time:     s.now(),
	}
	if cause != nil {
		record.Error = cause.Error()
	}
	fileKey := unsafeChars.ReplaceAllString(entry.Key, "_") + "-" + strconv.FormatInt(record.Time.UnixNano(), 10)
	if err := s.d.Write(fileKey, []byte(conv.String(record))); err != nil {
		return fmt.Errorf("deadletter: write %q: %w", fileKey, err)
	}
	return nil
}

// Keys 所有死信文件名，已排序
func (s *DiskSink[V]) Keys() []string {
	keys := make([]string, 0)
	for k := range s.d.Keys(nil) {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Read 读取一条死信
func (s *DiskSink[V]) Read(fileKey string) (DiskRecord[V], error) {
	var record DiskRecord[V]
	data, err := s.d.Read(fileKey)
	if err != nil {
		return record, fmt.Errorf("deadletter: read %q: %w", fileKey, err)
	}
	if err = conv.Unmarshal(string(data), &record); err != nil {
		return record, fmt.Errorf("deadletter: decode %q: %w", fileKey, err)
	}
	return record, nil
}

// Erase 人工处理完之后删除
func (s *DiskSink[V]) Erase(fileKey string) error {
	return s.d.Erase(fileKey)
}

var _ savequeue.DeadLetterSink[any] = (*DiskSink[any])(nil)
