package shard

import (
	"fmt"
)

// DefaultCount 是默认分片数量。
const DefaultCount = 5

// Router 将市场代码确定性地映射到分片。
// 调整分片数量会使大多数市场重新分配，Router 不做再平衡。
type Router struct {
	count int
}

// NewRouter 创建路由器，count<=0 时使用默认值。
func NewRouter(count int) *Router {
	if count <= 0 {
		count = DefaultCount
	}
	return &Router{count: count}
}

// Count 返回分片数量。
func (r *Router) Count() int {
	return r.count
}

// ShardFor 返回市场所属分片序号。
func (r *Router) ShardFor(market string) int {
	h := int64(Hash(market))
	if h < 0 {
		h = -h
	}
	return int(h % int64(r.count))
}

// Name 返回市场所属分片的名称。
func (r *Router) Name(market string) string {
	return Name(r.ShardFor(market))
}

// Name 格式化分片名称。
func Name(idx int) string {
	return fmt.Sprintf("orderbook-shard-%d", idx)
}

// Hash 是乘数 31 的 32 位字符串哈希，按 UTF-16 码元累加并允许溢出。
func Hash(s string) int32 {
	var h int32
	for _, r := range s {
		if r >= 0x10000 {
			hi, lo := surrogates(r)
			h = h*31 + int32(hi)
			h = h*31 + int32(lo)
			continue
		}
		h = h*31 + int32(r)
	}
	return h
}

func surrogates(r rune) (uint16, uint16) {
	r -= 0x10000
	return uint16(0xD800 + (r>>10)&0x3FF), uint16(0xDC00 + r&0x3FF)
}
