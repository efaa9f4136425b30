package backend

import (
	"fmt"

	"github.com/magic-lib/go-plat-savequeue/savequeue"
	"github.com/magic-lib/go-plat-utils/conv"
)

// decode 反序列化保存的数据
func decode[V any](valueStr string) (V, error) {
	var value V
	if err := conv.Unmarshal(valueStr, &value); err != nil {
		var zero V
		return zero, fmt.Errorf("backend: decode payload: %w", err)
	}
	return value, nil
}

var (
	_ savequeue.Persister[any] = (*SQLPersister[any])(nil)
	_ savequeue.Persister[any] = (*GormPersister[any])(nil)
	_ savequeue.Persister[any] = (*RedisPersister[any])(nil)
)
