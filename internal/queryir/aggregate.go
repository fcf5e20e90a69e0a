package queryir

import (
	"fmt"

	"github.com/roach88/livedb/internal/ir"
)

// AggregateFunc computes an aggregate over the rows of one group.
type AggregateFunc func(rows []ir.IRValue) ir.IRValue

// CompileAggregate builds an AggregateFunc for a.
//
// Semantics:
//   - count(): number of rows; count(x): rows where x is not null
//   - sum(x): sum of numeric x (IRInt while every input is an int), 0 when empty
//   - avg(x): mean of numeric x as IRFloat, null when empty
//   - min(x)/max(x): extreme non-null x under ir.Compare, null when empty
func CompileAggregate(a *Aggregate) (AggregateFunc, error) {
	if err := Validate(a); err != nil {
		return nil, err
	}

	var arg Evaluator
	if len(a.Args) == 1 {
		ev, err := compile(a.Args[0])
		if err != nil {
			return nil, err
		}
		arg = ev
	}

	switch a.Name {
	case AggCount:
		return func(rows []ir.IRValue) ir.IRValue {
			if arg == nil {
				return ir.IRInt(len(rows))
			}
			n := 0
			for _, r := range rows {
				if !ir.IsNullish(arg(r)) {
					n++
				}
			}
			return ir.IRInt(n)
		}, nil

	case AggSum:
		return func(rows []ir.IRValue) ir.IRValue {
			var isum int64
			var fsum float64
			isFloat := false
			for _, r := range rows {
				switch v := arg(r).(type) {
				case ir.IRInt:
					isum += int64(v)
				case ir.IRFloat:
					fsum += float64(v)
					isFloat = true
				}
			}
			if isFloat {
				return ir.IRFloat(fsum + float64(isum))
			}
			return ir.IRInt(isum)
		}, nil

	case AggAvg:
		return func(rows []ir.IRValue) ir.IRValue {
			var sum float64
			n := 0
			for _, r := range rows {
				if f, ok := ir.AsFloat(arg(r)); ok {
					sum += f
					n++
				}
			}
			if n == 0 {
				return ir.Null
			}
			return ir.IRFloat(sum / float64(n))
		}, nil

	case AggMin, AggMax:
		wantMax := a.Name == AggMax
		return func(rows []ir.IRValue) ir.IRValue {
			var best ir.IRValue
			for _, r := range rows {
				v := arg(r)
				if ir.IsNullish(v) {
					continue
				}
				if best == nil {
					best = v
					continue
				}
				c := ir.Compare(v, best)
				if (wantMax && c > 0) || (!wantMax && c < 0) {
					best = v
				}
			}
			if best == nil {
				return ir.Null
			}
			return best
		}, nil

	default:
		return nil, &ValidationError{
			Code:    ErrCodeUnknownFunction,
			Message: fmt.Sprintf("unknown aggregate %q", a.Name),
			Expr:    Format(a),
		}
	}
}
