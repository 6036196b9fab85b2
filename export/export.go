// Package export 把片段集合导出为训练用张量与多边形标注文件
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	annotate "github.com/getcharzp/go-annotate"
	"github.com/getcharzp/go-annotate/store"
)

// Tensor HWC 布局的 one-hot 导出结果，值为 0/1
type Tensor struct {
	H, W, C int
	Data    []uint8
}

// At 取 (x, y) 处通道 c 的值
func (t *Tensor) At(x, y, c int) uint8 {
	return t.Data[(y*t.W+x)*t.C+c]
}

// ClassEntry 导出类别表的一行
type ClassEntry struct {
	ClassID int
	Alias   string
	Channel int
}

// ClassTable 导出类别表：全部已注册类别按展示顺序排列
//
// 通道序号即名次；未分配类别的片段不参与导出。
func ClassTable(s *store.Store) []ClassEntry {
	reg := s.Registry()

	var entries []ClassEntry
	for _, id := range reg.IDsInOrder() {
		entries = append(entries, ClassEntry{
			ClassID: id,
			Alias:   reg.Alias(id),
			Channel: len(entries),
		})
	}
	return entries
}

// OneHot 导出逐类 one-hot 张量
//
// 每个类别得到一个通道，通道内为该类所有片段掩码的并集。
// pixelPriority 为真时每个像素只归属一个类：取该像素处提交
// 最晚的片段所属类别。
func OneHot(s *store.Store, pixelPriority bool) (*Tensor, []ClassEntry, error) {
	w, h := s.ImageSize()
	entries := ClassTable(s)
	if len(entries) == 0 {
		return nil, nil, fmt.Errorf("没有已注册类别: %w", annotate.ErrEmptyResult)
	}

	channel := make(map[int]int, len(entries))
	for _, e := range entries {
		channel[e.ClassID] = e.Channel
	}

	t := &Tensor{H: h, W: w, C: len(entries), Data: make([]uint8, h*w*len(entries))}

	if !pixelPriority {
		for _, seg := range s.Segments() {
			ch, ok := channel[seg.ClassID]
			if !ok {
				continue
			}
			mask := seg.Mask(w, h)
			for i, v := range mask.Pix {
				if v > 0 {
					t.Data[i*t.C+ch] = 1
				}
			}
		}
		return t, entries, nil
	}

	// 像素归属：提交越晚的片段优先
	claims := make([]uint64, w*h)
	owner := make([]int, w*h)
	for i := range owner {
		owner[i] = -1
	}
	for _, seg := range s.Segments() {
		ch, ok := channel[seg.ClassID]
		if !ok {
			continue
		}
		mask := seg.Mask(w, h)
		seq := seg.CommitSeq()
		for i, v := range mask.Pix {
			if v > 0 && seq >= claims[i] {
				claims[i] = seq
				owner[i] = ch
			}
		}
	}
	for i, ch := range owner {
		if ch >= 0 {
			t.Data[i*t.C+ch] = 1
		}
	}
	return t, entries, nil
}

// FlatLabelMap 导出单通道标签图，0 为背景，i+1 为通道 i 的类别
//
// 重叠像素归属提交最晚的片段；超过 255 个通道时 uint8 无法
// 编码，返回错误。
func FlatLabelMap(s *store.Store) ([]uint8, []ClassEntry, error) {
	t, entries, err := OneHot(s, true)
	if err != nil {
		return nil, nil, err
	}
	if t.C > 255 {
		return nil, nil, fmt.Errorf("类别数 %d 超出单通道标签图上限 255", t.C)
	}
	out := make([]uint8, t.W*t.H)
	for i := 0; i < t.W*t.H; i++ {
		for c := 0; c < t.C; c++ {
			if t.Data[i*t.C+c] > 0 {
				out[i] = uint8(c + 1)
				break
			}
		}
	}
	return out, entries, nil
}

// WriteVector 导出 Vector 片段的归一化多边形标注
//
// 每个 Vector 片段一行：类别通道号加归一化顶点坐标，
// Rasterized 片段与未分类片段跳过。
func WriteVector(w io.Writer, s *store.Store) (int, error) {
	imgW, imgH := s.ImageSize()
	entries := ClassTable(s)

	channel := make(map[int]int, len(entries))
	for _, e := range entries {
		channel[e.ClassID] = e.Channel
	}

	written := 0
	for _, seg := range s.Segments() {
		if seg.Kind != store.KindVector {
			continue
		}
		ch, ok := channel[seg.ClassID]
		if !ok {
			continue
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "%d", ch)
		for _, pt := range seg.Polygon() {
			fmt.Fprintf(&sb, " %.6f %.6f",
				clamp01(pt.X/float32(imgW)), clamp01(pt.Y/float32(imgH)))
		}
		sb.WriteByte('\n')

		if _, err := io.WriteString(w, sb.String()); err != nil {
			return written, fmt.Errorf("写入标注失败: %w", err)
		}
		written++
	}
	return written, nil
}

// clamp01 把归一化坐标截断到 [0, 1]
func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SortedClassIDs 导出中出现的类别 id，升序
func SortedClassIDs(entries []ClassEntry) []int {
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ClassID)
	}
	sort.Ints(ids)
	return ids
}
