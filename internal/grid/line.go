package grid

// Ray walks the Bresenham line from origin through via and beyond, calling
// visit for every cell after origin until visit returns false or the line
// leaves a region of resolution res.
func Ray(origin, via FieldCell, res int, visit func(FieldCell) bool) {
	if origin == via {
		return
	}
	walk(origin, via, res, true, visit)
}

// Line calls visit for every cell of the Bresenham line after from, up to
// and including to, stopping early when visit returns false.
func Line(from, to FieldCell, visit func(FieldCell) bool) {
	if from == to {
		return
	}
	walk(from, to, -1, false, visit)
}

func walk(from, to FieldCell, res int, extend bool, visit func(FieldCell) bool) {
	dx := absInt(to.Column - from.Column)
	dy := -absInt(to.Row - from.Row)
	sx, sy := 1, 1
	if from.Column > to.Column {
		sx = -1
	}
	if from.Row > to.Row {
		sy = -1
	}

	err := dx + dy
	x, y := from.Column, from.Row
	for {
		if !extend && x == to.Column && y == to.Row {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
		cell := FieldCell{Column: x, Row: y}
		if extend && !cell.InBounds(res) {
			return
		}
		if !visit(cell) {
			return
		}
	}
}

// LineOfSight reports whether the straight line between two cells avoids
// blocked cells. A diagonal step between two blocked orthogonal cells counts
// as obstructed.
func LineOfSight(from, to FieldCell, blocked func(FieldCell) bool) bool {
	clear := true
	prev := from
	Line(from, to, func(c FieldCell) bool {
		if blocked(c) {
			clear = false
			return false
		}
		if c.Column != prev.Column && c.Row != prev.Row {
			a := FieldCell{Column: c.Column, Row: prev.Row}
			b := FieldCell{Column: prev.Column, Row: c.Row}
			if blocked(a) && blocked(b) {
				clear = false
				return false
			}
		}
		prev = c
		return true
	})
	return clear
}
