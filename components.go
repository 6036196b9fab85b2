package annotate

// neighbors8 八连通偏移
var neighbors8 = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// ConnectedComponents 将掩码按八连通拆分为独立的连通块
//
// 返回的切片按扫描顺序（各连通块首个像素的行优先顺序）排列，
// 结果对同一输入是确定的。空掩码返回空切片。
func ConnectedComponents(m *Mask) []*Mask {
	var out []*Mask
	visited := make([]bool, len(m.Pix))
	queue := make([]int, 0, 64)

	for start, v := range m.Pix {
		if v == 0 || visited[start] {
			continue
		}

		comp := NewMask(m.W, m.H)
		queue = append(queue[:0], start)
		visited[start] = true

		for len(queue) > 0 {
			idx := queue[0]
			queue = queue[1:]
			comp.Pix[idx] = 255

			x, y := idx%m.W, idx/m.W
			for _, d := range neighbors8 {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= m.W || ny >= m.H {
					continue
				}
				nidx := ny*m.W + nx
				if m.Pix[nidx] != 0 && !visited[nidx] {
					visited[nidx] = true
					queue = append(queue, nidx)
				}
			}
		}
		out = append(out, comp)
	}
	return out
}
