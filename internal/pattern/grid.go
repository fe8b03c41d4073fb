package pattern

import (
	"sort"

	"camera-calib/pkg/geometry"
)

// OrderGrid arranges unordered circle centres into the row-major scan order
// used by ReferenceModel. Centres are sorted top to bottom, split into
// boardSize.Height rows of boardSize.Width points, and each row is sorted left
// to right. This only holds for targets viewed roughly front-on.
//
// It returns false if the centre count does not match the board or t is not a
// circle pattern.
func OrderGrid(t Type, centers []geometry.Point2D, boardSize geometry.Size) ([]geometry.Point2D, bool) {
	if t != CirclesGrid && t != AsymmetricCirclesGrid {
		return nil, false
	}
	if !boardSize.Valid() || len(centers) != boardSize.Area() {
		return nil, false
	}

	ordered := make([]geometry.Point2D, len(centers))
	copy(ordered, centers)
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].Y < ordered[b].Y
	})

	cols := boardSize.Width
	for r := 0; r < boardSize.Height; r++ {
		row := ordered[r*cols : (r+1)*cols]
		sort.SliceStable(row, func(a, b int) bool {
			return row[a].X < row[b].X
		})
	}

	return ordered, true
}
