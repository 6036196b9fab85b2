// Package sequence 管理影像序列的帧状态与标注传播
package sequence

// State 帧状态
type State int

const (
	// StatePending 未标注，也未收到可信的传播结果
	StatePending State = iota
	// StateReference 含人工确认标注，作为传播参考
	StateReference
	// StatePropagated 传播结果可信
	StatePropagated
	// StateFlagged 传播结果置信度不足，待人工复核
	StateFlagged
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateReference:
		return "Reference"
	case StatePropagated:
		return "Propagated"
	case StateFlagged:
		return "Flagged"
	default:
		return "Unknown"
	}
}

// Stats 各状态帧数统计
type Stats struct {
	Pending    int
	Reference  int
	Propagated int
	Flagged    int
}

// Total 帧总数
func (s Stats) Total() int {
	return s.Pending + s.Reference + s.Propagated + s.Flagged
}
