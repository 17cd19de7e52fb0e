package lattice

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Display writes a layer-by-layer dump of resident counts, top layer first.
// Each row is one y with one digit per x; counts above 9 are written as '+'.
// The last line is the grand total.
func (l *Lattice) Display(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for z := l.ext.Z - 1; z >= 0; z-- {
		fmt.Fprintf(bw, "z = %d\n", z)
		for y := 0; y < l.ext.Y; y++ {
			for x := 0; x < l.ext.X; x++ {
				n := len(l.cells[l.index(Coord{x, y, z})].grains)
				if n > 9 {
					bw.WriteByte('+')
					continue
				}
				bw.WriteString(strconv.Itoa(n))
			}
			bw.WriteByte('\n')
		}
		bw.WriteByte('\n')
	}
	fmt.Fprintf(bw, "total grains: %d\n", l.TotalGrains())
	return bw.Flush()
}
