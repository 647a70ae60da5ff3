package postgres

import (
	"fmt"
	"strings"

	"github.com/agentmesh/billing/internal/types"
	"github.com/lib/pq"
)

// whereBuilder accumulates positional predicates for hand written list queries
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func (w *whereBuilder) add(clause string, arg interface{}) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

// addAny adds `column = ANY($n)` for a non-empty set of string-like values
func addAny[T ~string](w *whereBuilder, column string, values []T) {
	if len(values) == 0 {
		return
	}
	arr := make([]string, len(values))
	for i, v := range values {
		arr[i] = string(v)
	}
	w.add(column+" = ANY($%d)", pq.Array(arr))
}

func (w *whereBuilder) raw(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends ORDER BY / LIMIT / OFFSET; sort columns are checked against allowed
func (w *whereBuilder) page(filter types.BaseFilter, allowed map[string]bool, tiebreak string) string {
	sort := filter.GetSort()
	if !allowed[sort] {
		sort = types.FILTER_DEFAULT_SORT
	}
	order := "DESC"
	if filter.GetOrder() == types.OrderAsc {
		order = "ASC"
	}

	var b strings.Builder
	fmt.Fprintf(&b, " ORDER BY %s %s, %s %s", sort, order, tiebreak, order)
	if !filter.IsUnlimited() {
		w.args = append(w.args, filter.GetLimit())
		fmt.Fprintf(&b, " LIMIT $%d", len(w.args))
	}
	if filter.GetOffset() > 0 {
		w.args = append(w.args, filter.GetOffset())
		fmt.Fprintf(&b, " OFFSET $%d", len(w.args))
	}
	return b.String()
}
