package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func denseFromRows(rows [][]float64) *mat.Dense {
	m := len(rows)
	n := len(rows[0])
	x := mat.NewDense(m, n, nil)
	for i, row := range rows {
		x.SetRow(i, row)
	}
	return x
}

func testModel(t *testing.T, model Model, x, y mat.Matrix, intercept float64, coef []float64, tol float64) {
	err := model.Fit(x, y)
	require.Nil(t, err)

	assert.InDelta(t, intercept, model.Intercept(), tol)

	c := model.Coef()
	assert.InDeltaSlice(t, coef, c, tol)

	r2, err := model.Score(x, y)
	require.Nil(t, err)
	assert.InDelta(t, 1.0, r2, tol)
}
