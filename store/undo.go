package store

import (
	annotate "github.com/getcharzp/go-annotate"
)

// entryKind 撤销记录类型
type entryKind int

const (
	entryAdd entryKind = iota
	entryDelete
	entryErase
	entryMoveVertex
)

// entry 一次已提交变更的不可变记录，携带双向恢复所需的快照
//
// 通用语义：撤销 = 删除 added 并恢复 removed；重做 = 反向。
// 顶点拖拽单独记录新旧坐标。
type entry struct {
	kind    entryKind
	added   []*Segment // 该变更创建的片段快照
	removed []*Segment // 该变更删除的片段快照

	segID       int
	vertexIndex int
	oldPos      annotate.Point
	newPos      annotate.Point
}

// history 固定容量的撤销/重做栈
//
// 新记录入栈时清空重做栈（不支持分支历史）；
// 超出容量时静默丢弃最旧记录，撤销深度有界。
type history struct {
	capacity int
	undo     []*entry
	redo     []*entry
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 1
	}
	return &history{capacity: capacity}
}

func (h *history) record(e *entry) {
	h.undo = append(h.undo, e)
	if len(h.undo) > h.capacity {
		h.undo = h.undo[1:]
	}
	h.redo = h.redo[:0]
}

func (h *history) popUndo() (*entry, bool) {
	if len(h.undo) == 0 {
		return nil, false
	}
	e := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, e)
	return e, true
}

func (h *history) popRedo() (*entry, bool) {
	if len(h.redo) == 0 {
		return nil, false
	}
	e := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, e)
	return e, true
}

func (h *history) clear() {
	h.undo = h.undo[:0]
	h.redo = h.redo[:0]
}

func (h *history) canUndo() bool { return len(h.undo) > 0 }
func (h *history) canRedo() bool { return len(h.redo) > 0 }
