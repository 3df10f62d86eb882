package engine

import "time"

// Timer 是可取消的定时任务句柄。
type Timer interface {
	Stop() bool
}

// Scheduler 抽象定时器与"下一轮"执行，测试中可手动驱动。
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Go(fn func())
}

// SystemScheduler 使用 time.AfterFunc 与 goroutine。
type SystemScheduler struct{}

func (SystemScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

func (SystemScheduler) Go(fn func()) {
	go fn()
}
