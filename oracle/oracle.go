// Package oracle 定义标注引擎依赖的预测服务抽象及其 ONNX 实现
package oracle

import (
	"context"
	"image"

	annotate "github.com/getcharzp/go-annotate"
)

// Handle 某张图像的预计算状态（嵌入等），使用完毕必须 Destroy
type Handle interface {
	Destroy()
}

// Box 框选提示，像素坐标
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Prompt 单个目标的交互提示
type Prompt struct {
	Positive []annotate.Point // 前景点击
	Negative []annotate.Point // 背景排除点击
	Box      *Box             // 可选框选
}

// Empty 提示是否为空
func (p Prompt) Empty() bool {
	return len(p.Positive) == 0 && len(p.Negative) == 0 && p.Box == nil
}

// Embedder 图像特征编码器
type Embedder interface {
	// EncodeImage 提取图像特征，返回可复用的句柄
	EncodeImage(ctx context.Context, img image.Image) (Handle, error)
}

// PointPrompter 根据交互提示解码单个目标的掩码
type PointPrompter interface {
	// Segment 返回掩码与置信度，掩码尺寸与原图一致
	Segment(ctx context.Context, handle Handle, prompt Prompt) (*annotate.Mask, float32, error)
}

// ReferenceMask 传播的参考输入：某帧上某目标的已确认掩码
type ReferenceMask struct {
	FrameIndex int
	ObjectID   int
	Mask       *annotate.Mask
}

// PropagatedObject 传播到某帧的单目标结果
type PropagatedObject struct {
	ObjectID   int
	Mask       *annotate.Mask
	Confidence float32
}

// VideoPropagator 把参考掩码传播到序列中的其他帧
type VideoPropagator interface {
	// PropagateFrame 预测 frameIndex 帧上所有参考目标的掩码
	PropagateFrame(ctx context.Context, refs []ReferenceMask, frame image.Image, frameIndex int) ([]PropagatedObject, error)
}

// FrameSource 按索引提供序列帧
type FrameSource interface {
	// FrameCount 帧总数
	FrameCount() int
	// Frame 读取指定帧
	Frame(index int) (image.Image, error)
}
