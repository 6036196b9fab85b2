package annotate

import "errors"

// 引擎统一的错误分类，调用方通过 errors.Is 判断
var (
	// ErrNotFound 未知的 segment/class/frame id，状态不变
	ErrNotFound = errors.New("目标不存在")
	// ErrEmptyResult 几何运算结果为空掩码，提交前拒绝
	ErrEmptyResult = errors.New("结果掩码为空")
	// ErrInvalidTransition 非法的帧状态转换
	ErrInvalidTransition = errors.New("非法状态转换")
	// ErrOracleFailure 预测服务出错或返回非法结果
	ErrOracleFailure = errors.New("预测服务失败")
	// ErrBusy 已有传播任务在运行，新任务被拒绝而非排队
	ErrBusy = errors.New("传播任务进行中")
)
