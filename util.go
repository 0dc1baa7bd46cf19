package sgcl

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// constVec creates a constant vector from float data.
func constVec(c anyvec.Creator, data []float64) anydiff.Res {
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(data)))
}

// rowTable expands a table of row indices into a table of
// component indices for rows of the given width.
func rowTable(rows []int, cols int) []int {
	table := make([]int, 0, len(rows)*cols)
	for _, r := range rows {
		for i := 0; i < cols; i++ {
			table = append(table, r*cols+i)
		}
	}
	return table
}

// gatherElems selects components of in, producing an output
// with out[i] = in[table[i]].
// Entries of table may repeat.
func gatherElems(in anydiff.Res, table []int) anydiff.Res {
	c := in.Output().Creator()
	mapper := c.MakeMapper(in.Output().Len(), table)
	out := c.MakeVector(len(table))
	mapper.Map(in.Output(), out)
	return &gatherRes{
		In:     in,
		Mapper: mapper,
		OutVec: out,
	}
}

// gatherRows selects rows of a row-major matrix, producing
// an output whose j-th row is row rows[j] of in.
func gatherRows(in anydiff.Res, rows []int, cols int) anydiff.Res {
	return gatherElems(in, rowTable(rows, cols))
}

// expandCols repeats each component of a column vector
// across cols components, turning an R-component input into
// an R-by-cols row-major matrix.
func expandCols(in anydiff.Res, cols int) anydiff.Res {
	table := make([]int, in.Output().Len()*cols)
	for i := range table {
		table[i] = i / cols
	}
	return gatherElems(in, table)
}

type gatherRes struct {
	In     anydiff.Res
	Mapper anyvec.Mapper
	OutVec anyvec.Vector
}

func (g *gatherRes) Output() anyvec.Vector {
	return g.OutVec
}

func (g *gatherRes) Vars() anydiff.VarSet {
	return g.In.Vars()
}

func (g *gatherRes) Propagate(u anyvec.Vector, grad anydiff.Grad) {
	down := g.OutVec.Creator().MakeVector(g.In.Output().Len())
	g.Mapper.MapTranspose(u, down)
	g.In.Propagate(down, grad)
}

// scatterSum adds components of in into a zeroed output of
// length outLen, with out[table[i]] += in[i].
func scatterSum(in anydiff.Res, table []int, outLen int) anydiff.Res {
	c := in.Output().Creator()
	mapper := c.MakeMapper(outLen, table)
	out := c.MakeVector(outLen)
	mapper.MapTranspose(in.Output(), out)
	return &scatterRes{
		In:     in,
		Mapper: mapper,
		OutVec: out,
	}
}

// scatterSumRows adds rows of a row-major matrix into a
// zeroed outRows-by-cols output, with row rows[j] of the
// output accumulating row j of in.
func scatterSumRows(in anydiff.Res, rows []int, outRows, cols int) anydiff.Res {
	return scatterSum(in, rowTable(rows, cols), outRows*cols)
}

type scatterRes struct {
	In     anydiff.Res
	Mapper anyvec.Mapper
	OutVec anyvec.Vector
}

func (s *scatterRes) Output() anyvec.Vector {
	return s.OutVec
}

func (s *scatterRes) Vars() anydiff.VarSet {
	return s.In.Vars()
}

func (s *scatterRes) Propagate(u anyvec.Vector, grad anydiff.Grad) {
	down := s.OutVec.Creator().MakeVector(s.In.Output().Len())
	s.Mapper.Map(u, down)
	s.In.Propagate(down, grad)
}

// firstOutput exposes the first output of a fused result
// as a plain Res.
// The remaining outputs receive a zero upstream during
// propagation.
func firstOutput(m anydiff.MultiRes) anydiff.Res {
	return &firstOutputRes{In: m}
}

type firstOutputRes struct {
	In anydiff.MultiRes
}

func (f *firstOutputRes) Output() anyvec.Vector {
	return f.In.Outputs()[0]
}

func (f *firstOutputRes) Vars() anydiff.VarSet {
	return f.In.Vars()
}

func (f *firstOutputRes) Propagate(u anyvec.Vector, grad anydiff.Grad) {
	down := make([]anyvec.Vector, len(f.In.Outputs()))
	down[0] = u
	for i, out := range f.In.Outputs()[1:] {
		down[i+1] = u.Creator().MakeVector(out.Len())
	}
	f.In.Propagate(down, grad)
}

// rowsConcat joins matrices with the same number of rows
// side by side, producing rows rows of summed width.
// The cols argument gives the width of each part.
func rowsConcat(rows int, parts []anydiff.Res, cols []int) anydiff.Res {
	if len(parts) != len(cols) {
		panic("sgcl: mismatched parts and widths")
	}
	total := 0
	offsets := make([]int, len(parts))
	for i, c := range cols {
		offsets[i] = total * rows
		total += c
	}
	table := make([]int, 0, rows*total)
	for r := 0; r < rows; r++ {
		for p := range parts {
			for c := 0; c < cols[p]; c++ {
				table = append(table, offsets[p]+r*cols[p]+c)
			}
		}
	}
	return gatherElems(anydiff.Concat(parts...), table)
}

// meanRows averages groups of per-sample rows, turning an
// n*perSample-by-cols matrix into an n-by-cols matrix.
func meanRows(in anydiff.Res, n, perSample, cols int) anydiff.Res {
	rows := make([]int, n*perSample)
	for i := range rows {
		rows[i] = i / perSample
	}
	sum := scatterSumRows(in, rows, n, cols)
	scaler := in.Output().Creator().MakeNumeric(1 / float64(perSample))
	return anydiff.Scale(sum, scaler)
}
