package oracle

import (
	"context"
	"fmt"
	"image"
	"math"

	annotate "github.com/getcharzp/go-annotate"
	ort "github.com/getcharzp/onnxruntime_purego"
	"github.com/up-zero/gotool/convertutil"
	"github.com/up-zero/gotool/imageutil"
)

// memorySize 参考掩码送入传播模型的边长
const memorySize = 256

// VideoEngine 序列传播引擎
//
// 以参考帧上的已确认掩码为记忆，逐帧预测同一目标在其他帧
// 上的掩码与置信度。
type VideoEngine struct {
	session *ort.Session
	config  Config
}

// NewVideoEngine 初始化传播引擎
func NewVideoEngine(cfg Config) (*VideoEngine, error) {
	if cfg.PropagateModelPath == "" {
		return nil, fmt.Errorf("未配置传播模型路径")
	}

	oc := new(annotate.OnnxConfig)
	if err := convertutil.CopyProperties(cfg, oc); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	// 初始化 ONNX
	if err := oc.New(); err != nil {
		return nil, err
	}

	session, err := oc.OnnxEngine.NewSession(cfg.PropagateModelPath, oc.SessionOptions)
	if err != nil {
		return nil, fmt.Errorf("创建传播 ONNX 会话失败: %w", err)
	}

	return &VideoEngine{
		session: session,
		config:  cfg,
	}, nil
}

// Destroy 释放相关资源
func (e *VideoEngine) Destroy() {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
}

// PropagateFrame 预测 frameIndex 帧上所有参考目标的掩码
//
// 每个目标取其离当前帧最近的参考掩码作为记忆，逐目标推理；
// 目标之间检查 ctx 取消。
func (e *VideoEngine) PropagateFrame(ctx context.Context, refs []ReferenceMask, frame image.Image, frameIndex int) ([]PropagatedObject, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("参考掩码为空: %w", annotate.ErrEmptyResult)
	}

	bounds := frame.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	scale := float32(inputSize) / float32(max(origW, origH))
	newW := int(float32(origW) * scale)
	newH := int(float32(origH) * scale)

	resizedImg := imageutil.Resize(frame, newW, newH)
	frameData := normalizeAndPad(resizedImg, inputSize, inputSize)

	frameTensor, err := ort.NewTensor([]int64{1, 3, int64(inputSize), int64(inputSize)}, frameData)
	if err != nil {
		return nil, fmt.Errorf("创建帧 Input Tensor 失败: %w", err)
	}
	defer frameTensor.Destroy()

	results := make([]PropagatedObject, 0, len(refs))
	for _, ref := range nearestRefs(refs, frameIndex) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		obj, err := e.propagateObject(frameTensor, ref, origW, origH, newW, newH)
		if err != nil {
			return nil, err
		}
		results = append(results, obj)
	}
	return results, nil
}

// propagateObject 单目标推理
func (e *VideoEngine) propagateObject(frameTensor *ort.Value, ref ReferenceMask, origW, origH, newW, newH int) (PropagatedObject, error) {
	memData := maskToTensorData(ref.Mask, memorySize, memorySize)
	memTensor, err := ort.NewTensor([]int64{1, 1, memorySize, memorySize}, memData)
	if err != nil {
		return PropagatedObject{}, fmt.Errorf("创建记忆 Tensor 失败: %w", err)
	}
	defer memTensor.Destroy()

	outputValues, err := e.session.Run(map[string]*ort.Value{
		"pixel_values": frameTensor,
		"mask_memory":  memTensor,
	})
	if err != nil {
		return PropagatedObject{}, fmt.Errorf("传播推理失败: %w: %v", annotate.ErrOracleFailure, err)
	}
	defer func() {
		for _, o := range outputValues {
			o.Destroy()
		}
	}()

	rawMask, err := ort.GetTensorData[float32](outputValues["pred_masks"])
	if err != nil {
		return PropagatedObject{}, fmt.Errorf("获取输出数据失败: %w", err)
	}
	rawScore, err := ort.GetTensorData[float32](outputValues["object_score_logits"])
	if err != nil {
		return PropagatedObject{}, fmt.Errorf("获取输出数据失败: %w", err)
	}

	validMaskW := int(float32(newW) / 4.0)
	validMaskH := int(float32(newH) / 4.0)
	mask := upscaleMaskLogits(rawMask, memorySize, validMaskW, validMaskH, origW, origH)

	confidence := float32(0)
	if len(rawScore) > 0 {
		confidence = sigmoid(rawScore[0])
	}

	return PropagatedObject{
		ObjectID:   ref.ObjectID,
		Mask:       mask,
		Confidence: confidence,
	}, nil
}

// nearestRefs 为每个目标选取离当前帧最近的参考掩码
func nearestRefs(refs []ReferenceMask, frameIndex int) []ReferenceMask {
	best := make(map[int]ReferenceMask)
	var order []int
	for _, ref := range refs {
		cur, ok := best[ref.ObjectID]
		if !ok {
			best[ref.ObjectID] = ref
			order = append(order, ref.ObjectID)
			continue
		}
		if absInt(ref.FrameIndex-frameIndex) < absInt(cur.FrameIndex-frameIndex) {
			best[ref.ObjectID] = ref
		}
	}
	out := make([]ReferenceMask, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
