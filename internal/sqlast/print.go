package sqlast

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shibukawa/snapsql/internal/dialect"
)

// bareIdentRe matches an identifier part that needs no quoting, per
// spec.md §4.8.
var bareIdentRe = regexp.MustCompile(`^(\*|[a-z_$][a-z0-9_$]*)$`)

// Printer renders a Query to SQL text for a given dialect, per spec.md
// §4.8/§6.
type Printer struct {
	Dlg    dialect.Handler
	Format bool
}

// Print renders query to a complete SQL string.
func (p Printer) Print(q Query) string {
	var b strings.Builder

	if len(q.Ctes) > 0 {
		b.WriteString("WITH ")

		if q.Recursive {
			b.WriteString("RECURSIVE ")
		}

		for i, cte := range q.Ctes {
			if i > 0 {
				b.WriteString(", ")
			}

			fmt.Fprintf(&b, "%s AS (%s)", p.quoteIdentPart(cte.Name), p.renderRelation(cte.Body))
		}

		p.sep(&b)
	}

	b.WriteString(p.renderRelation(q.Body))

	out := b.String()
	if p.Format {
		out += "\n"
	}

	return out
}

func (p Printer) sep(b *strings.Builder) {
	if p.Format {
		b.WriteString("\n")
	} else {
		b.WriteString(" ")
	}
}

func (p Printer) renderRelation(r Relation) string {
	switch r.Kind {
	case RelSelect:
		return p.renderSelect(*r.Select)
	case RelSetOp:
		op := string(r.SetOp)
		if r.Distinct {
			op += " DISTINCT"
		} else {
			op += " ALL"
		}

		return fmt.Sprintf("%s %s %s", p.renderRelation(*r.Left), op, p.renderRelation(*r.Right))
	case RelRaw:
		return r.Raw
	default:
		return ""
	}
}

func (p Printer) renderSelect(s Select) string {
	var parts []string

	sel := "SELECT"
	if s.Distinct {
		sel = "SELECT DISTINCT"
	} else if len(s.DistinctOnCols) > 0 {
		cols := make([]string, len(s.DistinctOnCols))
		for i, c := range s.DistinctOnCols {
			cols[i] = p.renderExpr(c, 0, AssocLeft, "")
		}

		sel = fmt.Sprintf("SELECT DISTINCT ON (%s)", strings.Join(cols, ", "))
	}

	if s.Top.Kind != ENone {
		sel += " TOP (" + p.renderExpr(s.Top, 0, AssocLeft, "") + ")"
	}

	items := make([]string, len(s.Projection))
	for i, it := range s.Projection {
		txt := p.renderExpr(it.Expr, 0, AssocLeft, "")
		if it.Alias != "" {
			txt += " AS " + p.quoteIdentPart(it.Alias)
		}

		items[i] = txt
	}

	parts = append(parts, sel+" "+strings.Join(items, ", "))

	if s.From != nil {
		parts = append(parts, "FROM "+p.renderTableExpr(*s.From))
	}

	for _, j := range s.Joins {
		jc := string(j.Kind) + " " + p.renderTableExpr(j.Table)

		if len(j.Using) > 0 {
			quoted := make([]string, len(j.Using))
			for i, u := range j.Using {
				quoted[i] = p.quoteIdentPart(u)
			}

			jc += " USING (" + strings.Join(quoted, ", ") + ")"
		} else if !j.On.IsAbsent() {
			jc += " ON " + p.renderExpr(j.On, 0, AssocLeft, "")
		}

		parts = append(parts, jc)
	}

	if !s.Where.IsAbsent() {
		parts = append(parts, "WHERE "+p.renderExpr(s.Where, 0, AssocLeft, ""))
	}

	if len(s.GroupBy) > 0 {
		cols := make([]string, len(s.GroupBy))
		for i, c := range s.GroupBy {
			cols[i] = p.renderExpr(c, 0, AssocLeft, "")
		}

		parts = append(parts, "GROUP BY "+strings.Join(cols, ", "))
	}

	if !s.Having.IsAbsent() {
		parts = append(parts, "HAVING "+p.renderExpr(s.Having, 0, AssocLeft, ""))
	}

	if len(s.OrderBy) > 0 {
		cols := make([]string, len(s.OrderBy))

		for i, o := range s.OrderBy {
			txt := p.renderExpr(o.Expr, 0, AssocLeft, "")
			if o.Desc {
				txt += " DESC"
			} else {
				txt += " ASC"
			}

			cols[i] = txt
		}

		parts = append(parts, "ORDER BY "+strings.Join(cols, ", "))
	}

	switch p.Dlg.TakeLimitStyle() {
	case dialect.FetchFirst:
		if !s.Limit.IsAbsent() {
			parts = append(parts, "FETCH FIRST "+p.renderExpr(s.Limit, 0, AssocLeft, "")+" ROWS ONLY")
		}
	default:
		if !s.Limit.IsAbsent() {
			parts = append(parts, "LIMIT "+p.renderExpr(s.Limit, 0, AssocLeft, ""))
		}

		if !s.Offset.IsAbsent() {
			parts = append(parts, "OFFSET "+p.renderExpr(s.Offset, 0, AssocLeft, ""))
		}
	}

	sepStr := " "
	if p.Format {
		sepStr = "\n"
	}

	return strings.Join(parts, sepStr)
}

func (p Printer) renderTableExpr(t TableExpr) string {
	var base string

	switch t.Kind {
	case TableName:
		base = p.quoteIdent(t.Name)
	case TableSub:
		base = "(" + p.renderRelation(*t.Sub) + ")"
	}

	if t.Alias != "" {
		return base + " AS " + p.quoteIdentPart(t.Alias)
	}

	return base
}

func (p Printer) renderExpr(e Expr, parentStrength int, parentAssoc Assoc, side string) string {
	switch e.Kind {
	case ENone:
		return ""
	case EIdent:
		return p.renderIdentExpr(e)
	case ELiteral:
		return e.Literal
	case ERaw:
		return e.Raw
	case EParam:
		return "$" + e.ParamName
	case EUnary:
		inner := p.renderExpr(*e.Right, strength(e.Op), assoc(e.Op), "right")
		if needsParens(*e.Right, strength(e.Op), assoc(e.Op), "right") {
			inner = "(" + inner + ")"
		}

		switch e.Op {
		case "not":
			return "NOT " + inner
		case "is_null":
			return inner + " IS NULL"
		case "is_not_null":
			return inner + " IS NOT NULL"
		default:
			return e.Op + inner
		}
	case EBinary:
		return p.renderBinary(e)
	case ECall:
		return p.renderCall(e)
	case ECase:
		return p.renderCase(e)
	default:
		return ""
	}
}

func (p Printer) renderBinary(e Expr) string {
	st := strength(e.Op)
	as := assoc(e.Op)

	left := p.renderExpr(*e.Left, st, as, "left")
	if needsParens(*e.Left, st, as, "left") {
		left = "(" + left + ")"
	}

	right := p.renderExpr(*e.Right, st, as, "right")
	if needsParens(*e.Right, st, as, "right") {
		right = "(" + right + ")"
	}

	opText := e.Op
	switch opText {
	case "and":
		opText = "AND"
	case "or":
		opText = "OR"
	case "==":
		opText = "="
	}

	return fmt.Sprintf("%s %s %s", left, opText, right)
}

func (p Printer) renderCall(e Expr) string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = p.renderExpr(a, 0, AssocLeft, "")
	}

	prefix := ""
	if e.Distinct {
		prefix = "DISTINCT "
	}

	call := fmt.Sprintf("%s(%s%s)", e.FuncName, prefix, strings.Join(args, ", "))

	if e.Over != nil {
		call += " OVER (" + p.renderOver(*e.Over) + ")"
	}

	return call
}

func (p Printer) renderOver(o OverSpec) string {
	var parts []string

	if len(o.PartitionBy) > 0 {
		cols := make([]string, len(o.PartitionBy))
		for i, c := range o.PartitionBy {
			cols[i] = p.renderExpr(c, 0, AssocLeft, "")
		}

		parts = append(parts, "PARTITION BY "+strings.Join(cols, ", "))
	}

	if len(o.OrderBy) > 0 {
		cols := make([]string, len(o.OrderBy))

		for i, ord := range o.OrderBy {
			txt := p.renderExpr(ord.Expr, 0, AssocLeft, "")
			if ord.Desc {
				txt += " DESC"
			} else {
				txt += " ASC"
			}

			cols[i] = txt
		}

		parts = append(parts, "ORDER BY "+strings.Join(cols, ", "))
	}

	if o.Frame != nil {
		kind := "RANGE"
		if o.Frame.Rows {
			kind = "ROWS"
		}

		parts = append(parts, fmt.Sprintf("%s BETWEEN %s AND %s", kind, o.Frame.Start, o.Frame.End))
	}

	return strings.Join(parts, " ")
}

func (p Printer) renderCase(e Expr) string {
	var b strings.Builder

	b.WriteString("CASE")

	for _, w := range e.CaseWhens {
		fmt.Fprintf(&b, " WHEN %s THEN %s", p.renderExpr(w.Cond, 0, AssocLeft, ""), p.renderExpr(w.Value, 0, AssocLeft, ""))
	}

	if e.CaseElse != nil {
		b.WriteString(" ELSE " + p.renderExpr(*e.CaseElse, 0, AssocLeft, ""))
	}

	b.WriteString(" END")

	return b.String()
}

func (p Printer) renderIdentExpr(e Expr) string {
	parts := make([]string, len(e.IdentParts))
	for i, part := range e.IdentParts {
		parts[i] = p.quoteIdentPart(part)
	}

	base := strings.Join(parts, ".")

	if len(e.ExcludeOn) > 0 {
		quoted := make([]string, len(e.ExcludeOn))
		for i, c := range e.ExcludeOn {
			quoted[i] = p.quoteIdentPart(c)
		}

		switch p.Dlg.ColumnExclude() {
		case dialect.ExcludeExcept:
			base += fmt.Sprintf(" EXCEPT (%s)", strings.Join(quoted, ", "))
		case dialect.ExcludeExclude:
			base += fmt.Sprintf(" EXCLUDE (%s)", strings.Join(quoted, ", "))
		}
	}

	return base
}

// quoteIdent quotes a (possibly dotted) identifier, keeping a dotted
// BigQuery path or a glob pattern as a single segment, per spec.md §4.8.
func (p Printer) quoteIdent(full string) string {
	if p.Dlg.BigQueryQuoting() && strings.Contains(full, ".") {
		return p.quoteIdentPart(full)
	}

	if strings.Contains(full, "*") {
		return p.quoteIdentPart(full)
	}

	segs := strings.Split(full, ".")
	for i, s := range segs {
		segs[i] = p.quoteIdentPart(s)
	}

	return strings.Join(segs, ".")
}

// quoteIdentPart quotes a single identifier segment iff it doesn't match
// the bare-identifier shape or is a reserved keyword, per spec.md §4.8.
func (p Printer) quoteIdentPart(part string) string {
	if part == "*" {
		return part
	}

	if bareIdentRe.MatchString(part) && !p.Dlg.IsReservedKeyword(part) {
		return part
	}

	q := p.Dlg.IdentQuote()
	if q == '[' {
		return "[" + part + "]"
	}

	qs := string(q)

	return qs + strings.ReplaceAll(part, qs, qs+qs) + qs
}
