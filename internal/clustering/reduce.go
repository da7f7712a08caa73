package clustering

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Reduce projects vectors onto their first dims principal components.
// Input that already has dims or fewer columns is returned unchanged.
func Reduce(vectors [][]float64, dims int) ([][]float64, error) {
	if len(vectors) == 0 || dims <= 0 {
		return vectors, nil
	}
	rows, cols := len(vectors), len(vectors[0])
	if cols <= dims || rows < 2 {
		return vectors, nil
	}

	data := mat.NewDense(rows, cols, nil)
	for i, v := range vectors {
		if len(v) != cols {
			return nil, fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(v), cols)
		}
		data.SetRow(i, v)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return nil, fmt.Errorf("principal component analysis failed")
	}
	var basis mat.Dense
	pc.VectorsTo(&basis)

	_, available := basis.Dims()
	k := dims
	if k > available {
		k = available
	}

	// Center before projecting so distances are measured around the mean
	means := make([]float64, cols)
	for j := 0; j < cols; j++ {
		means[j] = stat.Mean(mat.Col(nil, j, data), nil)
	}
	centered := mat.NewDense(rows, cols, nil)
	centered.Apply(func(_, j int, v float64) float64 { return v - means[j] }, data)

	var projected mat.Dense
	projected.Mul(centered, basis.Slice(0, cols, 0, k))

	out := make([][]float64, rows)
	for i := range out {
		out[i] = mat.Row(nil, i, &projected)
	}
	return out, nil
}
