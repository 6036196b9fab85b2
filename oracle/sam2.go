package oracle

import (
	"context"
	"fmt"
	"image"
	"runtime"

	annotate "github.com/getcharzp/go-annotate"
	ort "github.com/getcharzp/onnxruntime_purego"
	"github.com/up-zero/gotool/convertutil"
	"github.com/up-zero/gotool/imageutil"
)

// Engine 持有 ONNX Session，负责图像编码与提示解码
type Engine struct {
	encoderSession *ort.Session
	decoderSession *ort.Session
	config         Config
}

// NewEngine 初始化引擎
func NewEngine(cfg Config) (*Engine, error) {
	oc := new(annotate.OnnxConfig)
	if err := convertutil.CopyProperties(cfg, oc); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	// 初始化 ONNX
	if err := oc.New(); err != nil {
		return nil, err
	}

	// encoder session
	encSession, err := oc.OnnxEngine.NewSession(cfg.EncodeModelPath, oc.SessionOptions)
	if err != nil {
		return nil, fmt.Errorf("创建 Encoder ONNX 会话失败: %w", err)
	}

	// decoder session
	decSession, err := oc.OnnxEngine.NewSession(cfg.DecodeModelPath, oc.SessionOptions)
	if err != nil {
		encSession.Destroy()
		return nil, fmt.Errorf("创建 Decoder ONNX 会话失败: %w", err)
	}

	return &Engine{
		encoderSession: encSession,
		decoderSession: decSession,
		config:         cfg,
	}, nil
}

// Destroy 释放相关资源
func (e *Engine) Destroy() {
	if e.encoderSession != nil {
		e.encoderSession.Destroy()
		e.encoderSession = nil
	}
	if e.decoderSession != nil {
		e.decoderSession.Destroy()
		e.decoderSession = nil
	}
}

// ImageContext 包含特定图像的特征缓存和参数
type ImageContext struct {
	engine          *Engine
	imageEmbeddings []*ort.Value

	origW, origH int
	scale        float32
	newW, newH   int
	isDestroyed  bool
}

// EncodeImage 图像特征提取
func (e *Engine) EncodeImage(ctx context.Context, img image.Image) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 预处理
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	scale := float32(inputSize) / float32(max(origW, origH))
	newW := int(float32(origW) * scale)
	newH := int(float32(origH) * scale)

	resizedImg := imageutil.Resize(img, newW, newH)
	tensorData := normalizeAndPad(resizedImg, inputSize, inputSize)

	// 创建 Input Tensor
	inputTensor, err := ort.NewTensor([]int64{1, 3, int64(inputSize), int64(inputSize)}, tensorData)
	if err != nil {
		return nil, fmt.Errorf("创建图片 Input Tensor 失败: %w", err)
	}
	defer inputTensor.Destroy()

	// Encoder 推理
	outputValues, err := e.encoderSession.Run(map[string]*ort.Value{
		"pixel_values": inputTensor,
	})
	if err != nil {
		return nil, fmt.Errorf("encoder 推理失败: %w: %v", annotate.ErrOracleFailure, err)
	}

	ic := &ImageContext{
		engine: e,
		imageEmbeddings: []*ort.Value{
			outputValues["image_embeddings.0"],
			outputValues["image_embeddings.1"],
			outputValues["image_embeddings.2"],
		},
		origW: origW,
		origH: origH,
		scale: scale,
		newW:  newW,
		newH:  newH,
	}

	// 设置 Finalizer 以防用户忘记 Destroy
	runtime.SetFinalizer(ic, func(c *ImageContext) { c.Destroy() })

	return ic, nil
}

// Destroy 释放图像特征缓存
func (ic *ImageContext) Destroy() {
	if ic.isDestroyed {
		return
	}
	for _, v := range ic.imageEmbeddings {
		if v != nil {
			v.Destroy()
		}
	}
	ic.imageEmbeddings = nil
	ic.isDestroyed = true
}

// Segment 根据交互提示解码掩码
//
// # Params:
//
//	handle: EncodeImage 返回的图像句柄
//	prompt: 点击与框选提示
//
// 返回与原图同尺寸的掩码及对应置信度。
func (e *Engine) Segment(ctx context.Context, handle Handle, prompt Prompt) (*annotate.Mask, float32, error) {
	ic, ok := handle.(*ImageContext)
	if !ok || ic.isDestroyed {
		return nil, 0, fmt.Errorf("图片特征不可用: %w", annotate.ErrOracleFailure)
	}
	if prompt.Empty() {
		return nil, 0, fmt.Errorf("提示为空: %w", annotate.ErrEmptyResult)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	// 坐标转换
	coords := make([]float32, 0, (len(prompt.Positive)+len(prompt.Negative)+2)*2)
	labels := make([]int64, 0, len(prompt.Positive)+len(prompt.Negative)+2)

	for _, pt := range prompt.Positive {
		coords = append(coords, pt.X*ic.scale, pt.Y*ic.scale)
		labels = append(labels, int64(LabelForeground))
	}
	for _, pt := range prompt.Negative {
		coords = append(coords, pt.X*ic.scale, pt.Y*ic.scale)
		labels = append(labels, int64(LabelBackground))
	}
	// box 通过 point 控制
	if prompt.Box != nil {
		coords = append(coords, prompt.Box.X1*ic.scale, prompt.Box.Y1*ic.scale)
		labels = append(labels, int64(LabelBoxTopLeft))
		coords = append(coords, prompt.Box.X2*ic.scale, prompt.Box.Y2*ic.scale)
		labels = append(labels, int64(LabelBoxBotRight))
	}

	numPoints := int64(len(labels))

	// 准备 Decoder Tensors
	tPoints, err := ort.NewTensor([]int64{1, 1, numPoints, 2}, coords)
	if err != nil {
		return nil, 0, fmt.Errorf("创建 Decoder Points Tensor 失败: %w", err)
	}
	defer tPoints.Destroy()

	tLabels, err := ort.NewTensor([]int64{1, 1, numPoints}, labels)
	if err != nil {
		return nil, 0, fmt.Errorf("创建 Decoder Labels Tensor 失败: %w", err)
	}
	defer tLabels.Destroy()

	var emptyFloat []float32
	tBoxes, err := ort.NewTensor([]int64{1, 0, 4}, emptyFloat)
	if err != nil {
		return nil, 0, fmt.Errorf("创建 Decoder Boxes Tensor 失败: %w", err)
	}
	defer tBoxes.Destroy()

	// Decoder 推理
	outputValues, err := e.decoderSession.Run(map[string]*ort.Value{
		"input_points":       tPoints,
		"input_labels":       tLabels,
		"input_boxes":        tBoxes,
		"image_embeddings.0": ic.imageEmbeddings[0],
		"image_embeddings.1": ic.imageEmbeddings[1],
		"image_embeddings.2": ic.imageEmbeddings[2],
	})
	if err != nil {
		return nil, 0, fmt.Errorf("decoder 推理失败: %w: %v", annotate.ErrOracleFailure, err)
	}
	defer func() {
		for _, o := range outputValues {
			o.Destroy()
		}
	}()

	// 获取最佳 Mask
	rawScores, err := ort.GetTensorData[float32](outputValues["iou_scores"])
	if err != nil {
		return nil, 0, fmt.Errorf("获取输出数据失败: %w", err)
	}
	rawMasks, err := ort.GetTensorData[float32](outputValues["pred_masks"])
	if err != nil {
		return nil, 0, fmt.Errorf("获取输出数据失败: %w", err)
	}

	bestIdx := 0
	bestScore := float32(-100.0)
	for i := 0; i < len(rawScores); i++ {
		if rawScores[i] > bestScore {
			bestScore = rawScores[i]
			bestIdx = i
		}
	}

	// 提取对应的 Mask Logits (256x256)
	pixelsPerMask := 256 * 256
	start := bestIdx * pixelsPerMask
	bestMaskLogits := rawMasks[start : start+pixelsPerMask]

	validMaskW := int(float32(ic.newW) / 4.0)
	validMaskH := int(float32(ic.newH) / 4.0)

	mask := upscaleMaskLogits(bestMaskLogits, 256, validMaskW, validMaskH, ic.origW, ic.origH)
	if mask.Empty() {
		return nil, bestScore, fmt.Errorf("预测掩码为空: %w", annotate.ErrEmptyResult)
	}
	return mask, bestScore, nil
}
