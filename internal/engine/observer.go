package engine

import (
	"time"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/order"
)

// 拒绝原因。
const (
	RejectValidation   = "validation"
	RejectBackpressure = "backpressure"
	RejectClosed       = "closed"
)

// FlushInfo 描述一次批量发送的结果。
type FlushInfo struct {
	Engine   string
	BatchID  string
	Size     int
	Duration time.Duration
	Err      error
}

// Observer 接收引擎的状态事件。
// 除 FlushStarted/FlushFinished 外，回调在引擎锁内执行，不得回调引擎。
type Observer interface {
	OrderAdmitted(o order.Order)
	OrderRejected(reason string)
	OrderEvicted(o order.Order)
	BufferChanged(size int)
	FlushStarted(batchID string, size int)
	FlushFinished(info FlushInfo)
}

// NopObserver 忽略全部事件。
type NopObserver struct{}

func (NopObserver) OrderAdmitted(order.Order) {}
func (NopObserver) OrderRejected(string) {}
func (NopObserver) OrderEvicted(order.Order) {}
func (NopObserver) BufferChanged(int) {}
func (NopObserver) FlushStarted(string, int) {}
func (NopObserver) FlushFinished(FlushInfo) {}

// Observers 将事件广播给多个观察者。
type Observers []Observer

func (os Observers) OrderAdmitted(o order.Order) {
	for _, ob := range os {
		ob.OrderAdmitted(o)
	}
}

func (os Observers) OrderRejected(reason string) {
	for _, ob := range os {
		ob.OrderRejected(reason)
	}
}

func (os Observers) OrderEvicted(o order.Order) {
	for _, ob := range os {
		ob.OrderEvicted(o)
	}
}

func (os Observers) BufferChanged(size int) {
	for _, ob := range os {
		ob.BufferChanged(size)
	}
}

func (os Observers) FlushStarted(batchID string, size int) {
	for _, ob := range os {
		ob.FlushStarted(batchID, size)
	}
}

func (os Observers) FlushFinished(info FlushInfo) {
	for _, ob := range os {
		ob.FlushFinished(info)
	}
}
