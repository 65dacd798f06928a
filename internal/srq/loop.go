package srq

import (
	"github.com/shibukawa/snapsql/internal/anchor"
	"github.com/shibukawa/snapsql/internal/dialect"
	"github.com/shibukawa/snapsql/internal/rq"
)

// LowerLoop implements spec.md §4.6: Loop(step) becomes a recursive CTE.
// initial is the already-atomic relation preceding the loop; step is
// preprocessed and split by ExtractAtomic (which may register ordinary
// CTEs) as given, so the caller supplies its From referencing
// recursiveTId.
func LowerLoop(initial SqlRelation, step []rq.Transform, recursiveTId rq.TId, recursiveName string, ctx *anchor.Context, dlg dialect.Handler) (Cte, error) {
	stepWrapped, err := Preprocess(step, dlg)
	if err != nil {
		return Cte{}, err
	}

	stepAtomic := ExtractAtomic(stepWrapped, ctx)

	stepRelation := SqlRelation{Kind: SqlRelAtomicPipeline, Pipeline: stepAtomic}

	return Cte{
		Id: recursiveTId,
		Kind: CteKind{
			Tag:           CteLoop,
			Initial:       &initial,
			Step:          &stepRelation,
			RecursiveName: recursiveName,
		},
	}, nil
}
