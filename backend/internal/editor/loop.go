package editor

import (
	"sync"
	"time"
)

// Timings 把协调器用到的全部时间常量集中到一处，测试可以整体压缩。
type Timings struct {
	SaveDebounce      time.Duration // 编辑静默多久后触发保存
	HighlightThrottle time.Duration // 光标高亮的最小派发间隔
	ResizeClear       time.Duration // 布局变动后多久清掉旧高亮
	ResizeRehighlight time.Duration // 布局稳定后多久重新高亮
	FrameGrace        time.Duration // 预览加载后等 ready 的宽限期
}

func DefaultTimings() Timings {
	return Timings{
		SaveDebounce:      500 * time.Millisecond,
		HighlightThrottle: 250 * time.Millisecond,
		ResizeClear:       100 * time.Millisecond,
		ResizeRehighlight: 250 * time.Millisecond,
		FrameGrace:        500 * time.Millisecond,
	}
}

// Loop 是每个上下文的单线程事件队列：所有会话状态只在这条 goroutine 上
// 改动，入队顺序就是处理顺序，不需要再加锁。
type Loop struct {
	tasks chan func()
	quit  chan struct{}
	once  sync.Once
}

func NewLoop() *Loop {
	l := &Loop{tasks: make(chan func(), 256), quit: make(chan struct{})}
	go l.run()
	return l
}

func (l *Loop) run() {
	for {
		select {
		case <-l.quit:
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post 把任务排进队列；Loop 已停止时丢弃。
func (l *Loop) Post(fn func()) {
	select {
	case <-l.quit:
	case l.tasks <- fn:
	}
}

// Sync 等队列里当前排着的任务全部跑完，测试用的栅栏。
func (l *Loop) Sync() {
	done := make(chan struct{})
	l.Post(func() { close(done) })
	select {
	case <-done:
	case <-l.quit:
	}
}

func (l *Loop) Stop() {
	l.once.Do(func() { close(l.quit) })
}

// debouncer 尾沿去抖：静默期内的重复触发只留最后一次。
// 回调通过 Loop 执行，和其它事件串行。
type debouncer struct {
	loop  *Loop
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func newDebouncer(loop *Loop, delay time.Duration, fn func()) *debouncer {
	return &debouncer{loop: loop, delay: delay, fn: fn}
}

func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.loop.Post(d.fn)
	})
}

func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// throttler 前沿放行、间隔内的后续触发合并成一次尾沿补发。
type throttler struct {
	loop     *Loop
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	last    time.Time
	pending *time.Timer
}

func newThrottler(loop *Loop, interval time.Duration, fn func()) *throttler {
	return &throttler{loop: loop, interval: interval, fn: fn}
}

func (t *throttler) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if now.Sub(t.last) >= t.interval {
		t.last = now
		t.loop.Post(t.fn)
		return
	}
	if t.pending != nil {
		return
	}
	wait := t.interval - now.Sub(t.last)
	t.pending = time.AfterFunc(wait, func() {
		t.mu.Lock()
		t.pending = nil
		t.last = time.Now()
		t.mu.Unlock()
		t.loop.Post(t.fn)
	})
}

func (t *throttler) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}
