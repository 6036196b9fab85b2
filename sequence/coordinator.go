package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	annotate "github.com/getcharzp/go-annotate"
	"github.com/getcharzp/go-annotate/oracle"
)

// FrameSet 序列各帧的标注访问接口
type FrameSet interface {
	// HasAuthored 帧上是否存在人工确认的标注
	HasAuthored(index int) bool
	// ReferenceMasks 帧上可作传播参考的掩码
	ReferenceMasks(index int) []oracle.ReferenceMask
	// CommitPropagated 写入传播结果，替换该帧此前的传播结果
	CommitPropagated(index int, objs []oracle.PropagatedObject) error
}

// Config 配置项
type Config struct {
	// ConfidenceThreshold 传播结果的可信下限
	ConfidenceThreshold float32
	// SkipLowConfidence 低置信帧只标记待复核，不写入预测掩码
	SkipLowConfidence bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.99,
	}
}

type frameState struct {
	state      State
	confidence float32
}

// Coordinator 序列传播协调器
//
// 维护每帧的状态机并驱动后台传播。同一时刻最多一个传播任务；
// 取消只在帧边界生效，已写入的帧保持其结果。
type Coordinator struct {
	mu     sync.Mutex
	cfg    Config
	frames []frameState
	set    FrameSet

	propagator oracle.VideoPropagator
	source     oracle.FrameSource
	logger     *zap.Logger

	active *Run
}

// NewCoordinator 创建协调器
//
// # Params:
//
//	set: 各帧标注访问
//	propagator: 传播引擎
//	source: 帧读取
func NewCoordinator(set FrameSet, propagator oracle.VideoPropagator, source oracle.FrameSource, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfig().ConfidenceThreshold
	}
	return &Coordinator{
		cfg:        cfg,
		frames:     make([]frameState, source.FrameCount()),
		set:        set,
		propagator: propagator,
		source:     source,
		logger:     logger,
	}
}

// FrameCount 帧总数
func (c *Coordinator) FrameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// StateOf 指定帧的状态
func (c *Coordinator) StateOf(index int) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.frames) {
		return 0, fmt.Errorf("帧 %d: %w", index, annotate.ErrNotFound)
	}
	return c.frames[index].state, nil
}

// ConfidenceOf 指定帧最近一次传播的置信度
func (c *Coordinator) ConfidenceOf(index int) (float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.frames) {
		return 0, fmt.Errorf("帧 %d: %w", index, annotate.ErrNotFound)
	}
	return c.frames[index].confidence, nil
}

// MarkReference 把帧标记为传播参考
//
// 帧上必须存在人工确认的标注，否则拒绝。
func (c *Coordinator) MarkReference(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.frames) {
		return fmt.Errorf("帧 %d: %w", index, annotate.ErrNotFound)
	}
	if !c.set.HasAuthored(index) {
		return fmt.Errorf("帧 %d 无人工标注: %w", index, annotate.ErrInvalidTransition)
	}
	c.frames[index].state = StateReference
	c.frames[index].confidence = 0
	return nil
}

// UnmarkReference 取消参考标记，帧回到 Pending
func (c *Coordinator) UnmarkReference(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.frames) {
		return fmt.Errorf("帧 %d: %w", index, annotate.ErrNotFound)
	}
	if c.frames[index].state != StateReference {
		return fmt.Errorf("帧 %d 不是参考帧: %w", index, annotate.ErrInvalidTransition)
	}
	c.frames[index].state = StatePending
	return nil
}

// SetConfidenceThreshold 调整可信下限并重判已传播帧
//
// Propagated 与 Flagged 帧按各自记录的置信度重新归类；
// Pending 与 Reference 不受影响。
func (c *Coordinator) SetConfidenceThreshold(threshold float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.ConfidenceThreshold = threshold
	for i := range c.frames {
		switch c.frames[i].state {
		case StatePropagated, StateFlagged:
			if c.frames[i].confidence >= threshold {
				c.frames[i].state = StatePropagated
			} else {
				c.frames[i].state = StateFlagged
			}
		}
	}
}

// NextFlagged 从 from 之后的第一个待复核帧，不环绕
func (c *Coordinator) NextFlagged(from int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := from + 1; i < len(c.frames); i++ {
		if c.frames[i].state == StateFlagged {
			return i, true
		}
	}
	return -1, false
}

// PrevFlagged 从 from 之前的最后一个待复核帧，不环绕
func (c *Coordinator) PrevFlagged(from int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if from > len(c.frames) {
		from = len(c.frames)
	}
	for i := from - 1; i >= 0; i-- {
		if c.frames[i].state == StateFlagged {
			return i, true
		}
	}
	return -1, false
}

// Stats 当前各状态帧数
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var st Stats
	for _, f := range c.frames {
		switch f.state {
		case StateReference:
			st.Reference++
		case StatePropagated:
			st.Propagated++
		case StateFlagged:
			st.Flagged++
		default:
			st.Pending++
		}
	}
	return st
}

// Progress 传播进度通知
type Progress struct {
	FrameIndex int
	State      State
	Confidence float32
}

// Run 一次后台传播任务
type Run struct {
	// ID 任务标识
	ID uuid.UUID
	// Progress 每处理完一帧发送一条，任务结束后关闭
	Progress <-chan Progress

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Cancel 请求取消，在下一个帧边界生效
func (r *Run) Cancel() {
	r.cancel()
}

// Wait 阻塞到任务结束，返回任务级错误（取消返回 context.Canceled）
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// Propagate 启动后台传播，处理 start 到 end（含）的帧
//
// start 大于 end 时按倒序传播。已有任务在跑时返回 ErrBusy。
// 参考帧被跳过；单帧预测失败记日志并保持该帧 Pending，任务
// 继续处理后续帧。
func (c *Coordinator) Propagate(ctx context.Context, start, end int) (*Run, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("已有传播任务: %w", annotate.ErrBusy)
	}
	if start < 0 || end < 0 || start >= len(c.frames) || end >= len(c.frames) {
		c.mu.Unlock()
		return nil, fmt.Errorf("帧范围 [%d, %d]: %w", start, end, annotate.ErrNotFound)
	}

	refs := c.collectRefsLocked()
	if len(refs) == 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("没有参考帧: %w", annotate.ErrInvalidTransition)
	}

	runCtx, cancel := context.WithCancel(ctx)
	span := end - start
	if span < 0 {
		span = -span
	}
	progress := make(chan Progress, span+1)
	run := &Run{
		ID:       uuid.New(),
		Progress: progress,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.active = run
	c.mu.Unlock()

	c.logger.Info("传播任务开始",
		zap.String("runID", run.ID.String()), zap.Int("start", start), zap.Int("end", end))

	go c.propagateLoop(runCtx, run, progress, refs, start, end)
	return run, nil
}

// collectRefsLocked 汇总全部参考帧的参考掩码
func (c *Coordinator) collectRefsLocked() []oracle.ReferenceMask {
	var refs []oracle.ReferenceMask
	for i, f := range c.frames {
		if f.state == StateReference {
			refs = append(refs, c.set.ReferenceMasks(i)...)
		}
	}
	return refs
}

func (c *Coordinator) propagateLoop(ctx context.Context, run *Run, progress chan<- Progress, refs []oracle.ReferenceMask, start, end int) {
	defer func() {
		close(progress)
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
		close(run.done)
	}()

	step := 1
	if start > end {
		step = -1
	}
	for i := start; ; i += step {
		if step > 0 && i > end || step < 0 && i < end {
			break
		}
		// 帧边界检查取消
		if err := ctx.Err(); err != nil {
			run.err = err
			c.logger.Info("传播任务取消", zap.String("runID", run.ID.String()), zap.Int("frame", i))
			return
		}
		if c.skipFrame(i) {
			continue
		}

		state, confidence := c.propagateFrame(ctx, refs, i)
		if errors.Is(ctx.Err(), context.Canceled) {
			run.err = ctx.Err()
			return
		}
		progress <- Progress{FrameIndex: i, State: state, Confidence: confidence}
	}

	c.logger.Info("传播任务完成", zap.String("runID", run.ID.String()))
}

func (c *Coordinator) skipFrame(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i].state == StateReference
}

// propagateFrame 传播单帧并更新状态，失败时帧保持 Pending
func (c *Coordinator) propagateFrame(ctx context.Context, refs []oracle.ReferenceMask, index int) (State, float32) {
	frame, err := c.source.Frame(index)
	if err != nil {
		c.logger.Warn("读取帧失败", zap.Int("frame", index), zap.Error(err))
		return c.setFrame(index, StatePending, 0)
	}

	objs, err := c.propagator.PropagateFrame(ctx, refs, frame, index)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return StatePending, 0
		}
		c.logger.Warn("帧传播失败", zap.Int("frame", index), zap.Error(err))
		return c.setFrame(index, StatePending, 0)
	}

	confidence := minConfidence(objs)
	c.mu.Lock()
	threshold := c.cfg.ConfidenceThreshold
	skipLow := c.cfg.SkipLowConfidence
	c.mu.Unlock()

	// 低置信帧按配置决定是否写入预测掩码，状态恒为待复核
	if confidence < threshold && skipLow {
		return c.setFrame(index, StateFlagged, confidence)
	}

	if err := c.set.CommitPropagated(index, objs); err != nil {
		c.logger.Warn("写入传播结果失败", zap.Int("frame", index), zap.Error(err))
		return c.setFrame(index, StatePending, 0)
	}

	if confidence >= threshold {
		return c.setFrame(index, StatePropagated, confidence)
	}
	return c.setFrame(index, StateFlagged, confidence)
}

func (c *Coordinator) setFrame(index int, state State, confidence float32) (State, float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames[index].state = state
	c.frames[index].confidence = confidence
	return state, confidence
}

// minConfidence 以帧内最不确定的目标作为帧置信度
func minConfidence(objs []oracle.PropagatedObject) float32 {
	if len(objs) == 0 {
		return 0
	}
	min := objs[0].Confidence
	for _, o := range objs[1:] {
		if o.Confidence < min {
			min = o.Confidence
		}
	}
	return min
}
