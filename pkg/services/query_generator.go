package services

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	sqlguard "github.com/ekaya-inc/ekaya-query/pkg/sql"
)

// minJoinConfidence excludes weak inferred edges from join paths.
const minJoinConfidence = 0.5

// QueryGenerator builds parameterized read queries from a mapping.
type QueryGenerator interface {
	// Generate returns a query that has been through validation. Callers
	// must check Executable before running it. Fails with
	// *apperrors.UnmappableQueryError when no projection or predicate can be
	// built.
	Generate(q *ParsedQuery, mapping *models.MappingResult, class models.QueryClassification, snap *models.SchemaSnapshot, dialect datasource.Dialect) (*models.GeneratedQuery, error)
}

type queryGenerator struct {
	logger *zap.Logger
}

// NewQueryGenerator creates a QueryGenerator.
func NewQueryGenerator(logger *zap.Logger) QueryGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &queryGenerator{logger: logger.Named("query_generator")}
}

// columnRef is a resolved column of a table in the snapshot.
type columnRef struct {
	table  *models.TableDescriptor
	column *models.ColumnDescriptor
}

func (c columnRef) name() string { return c.table.Name + "." + c.column.Name }

type predicate struct {
	col    columnRef
	render func(col string, placeholders []string) string
	params []models.QueryParameter
}

// queryBuilder accumulates one SELECT statement.
type queryBuilder struct {
	snap    *models.SchemaSnapshot
	dialect datasource.Dialect
	base    *models.TableDescriptor
	aliases map[string]string // lower table name -> alias
	joins   []string
	params  []models.QueryParameter
}

func (g *queryGenerator) Generate(q *ParsedQuery, mapping *models.MappingResult, class models.QueryClassification, snap *models.SchemaSnapshot, dialect datasource.Dialect) (*models.GeneratedQuery, error) {
	if snap == nil {
		return nil, &apperrors.UnmappableQueryError{Rationale: "no schema snapshot available"}
	}

	groupPos := -1
	if q.GroupBy != nil {
		groupPos = q.GroupBy.Pos
	}

	var measure *columnRef
	if q.Aggregate != "" && q.Aggregate != "COUNT" {
		measure = findMeasure(q, mapping, snap, groupPos)
		if measure == nil {
			return nil, &apperrors.UnmappableQueryError{Rationale: fmt.Sprintf("no numeric column to compute %s over", q.Aggregate)}
		}
	}

	base := baseTable(mapping, snap, measure, groupPos)
	if base == nil {
		return nil, &apperrors.UnmappableQueryError{Rationale: "no table or column matches the question"}
	}

	b := &queryBuilder{
		snap:    snap,
		dialect: dialect,
		base:    base,
		aliases: map[string]string{strings.ToLower(base.Name): "t0"},
	}

	var preds []predicate
	for _, t := range mapping.Terms {
		best, ok := t.Best()
		if !ok || t.Position == groupPos || !best.IsValueMatch() {
			continue
		}
		col, ok := resolveColumn(snap, best.TableName, best.ColumnName)
		if !ok {
			continue
		}
		preds = append(preds, equalityPredicate(col, best.Value))
	}
	for _, cmp := range q.Comparisons {
		col, ok := comparisonTarget(cmp, mapping, base, snap)
		if !ok {
			g.logger.Debug("No column for comparison", zap.String("op", cmp.Op), zap.Any("values", cmp.Values))
			continue
		}
		preds = append(preds, comparisonPredicate(col, cmp))
	}

	var where []string
	for _, p := range preds {
		alias, ok := b.join(p.col.table)
		if !ok {
			g.logger.Debug("Dropping predicate on unreachable table", zap.String("column", p.col.name()))
			continue
		}
		where = append(where, p.render(alias+"."+dialect.QuoteIdentifier(p.col.column.Name), b.bind(p.params)))
	}

	var groupExpr, groupAlias string
	if q.Aggregate != "" && q.GroupBy != nil {
		if col, ok := groupColumn(mapping, snap, groupPos); ok {
			if alias, ok := b.join(col.table); ok {
				groupExpr = alias + "." + dialect.QuoteIdentifier(col.column.Name)
				groupAlias = dialect.QuoteIdentifier(col.table.Name + "_" + col.column.Name)
			}
		}
	}

	var selectList []string
	if groupExpr != "" {
		selectList = append(selectList, groupExpr+" AS "+groupAlias)
	}
	switch {
	case q.Aggregate == "COUNT":
		expr := "COUNT(*)"
		if pk := base.PrimaryKey(); pk != "" && len(b.joins) > 0 {
			expr = "COUNT(DISTINCT t0." + dialect.QuoteIdentifier(pk) + ")"
		}
		selectList = append(selectList, expr+" AS "+dialect.QuoteIdentifier("count"))
	case measure != nil:
		alias, _ := b.join(measure.table)
		selectList = append(selectList, fmt.Sprintf("%s(%s.%s) AS %s", q.Aggregate, alias,
			dialect.QuoteIdentifier(measure.column.Name),
			dialect.QuoteIdentifier(strings.ToLower(q.Aggregate)+"_"+measure.column.Name)))
	default:
		if class.Type == models.QueryTypeHybrid && len(where) == 0 {
			return nil, &apperrors.UnmappableQueryError{Rationale: "no filter could be built from the mapped terms"}
		}
		selectList = append(selectList, b.projection(mapping, q, groupPos)...)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selectList, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(dialect.QualifiedTable(base.SchemaName, base.Name))
	sb.WriteString(" AS t0")
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if groupExpr != "" {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(groupExpr)
	}

	gq := &models.GeneratedQuery{
		Text:       sb.String(),
		Parameters: b.params,
		Tables:     b.tables(),
	}
	if gq.Parameters == nil {
		gq.Parameters = []models.QueryParameter{}
	}
	sqlguard.ValidateGenerated(gq)

	g.logger.Debug("Generated query",
		zap.String("base_table", base.Name),
		zap.Int("joins", len(b.joins)),
		zap.Int("parameters", len(gq.Parameters)),
		zap.Bool("validated", gq.Validated),
		zap.Strings("risk_flags", gq.RiskFlags))
	return gq, nil
}

// bind numbers params after those already bound and returns their placeholders.
func (b *queryBuilder) bind(params []models.QueryParameter) []string {
	out := make([]string, len(params))
	for i, p := range params {
		p.Position = len(b.params) + 1
		b.params = append(b.params, p)
		out[i] = b.dialect.Placeholder(p.Position)
	}
	return out
}

// join makes t reachable from the base table and returns its alias.
func (b *queryBuilder) join(t *models.TableDescriptor) (string, bool) {
	if alias, ok := b.aliases[strings.ToLower(t.Name)]; ok {
		return alias, true
	}
	path := joinPath(b.snap, b.base.Name, t.Name)
	if path == nil {
		return "", false
	}
	current := b.base.Name
	for _, e := range path {
		from, to := e.FromTable, e.ToTable
		fromCol, toCol := e.FromColumn, e.ToColumn
		if !strings.EqualFold(from, current) {
			from, to = to, from
			fromCol, toCol = toCol, fromCol
		}
		fromAlias := b.aliases[strings.ToLower(from)]
		toAlias, joined := b.aliases[strings.ToLower(to)]
		if !joined {
			toAlias = fmt.Sprintf("t%d", len(b.aliases))
			b.aliases[strings.ToLower(to)] = toAlias
			target, _ := b.snap.Table(to)
			schemaName := ""
			if target != nil {
				schemaName = target.SchemaName
			}
			b.joins = append(b.joins, fmt.Sprintf("JOIN %s AS %s ON %s.%s = %s.%s",
				b.dialect.QualifiedTable(schemaName, to), toAlias,
				fromAlias, b.dialect.QuoteIdentifier(fromCol),
				toAlias, b.dialect.QuoteIdentifier(toCol)))
		}
		current = to
	}
	return b.aliases[strings.ToLower(t.Name)], true
}

func (b *queryBuilder) tables() []string {
	out := []string{b.base.Name}
	for name := range b.aliases {
		if name != strings.ToLower(b.base.Name) {
			if t, ok := b.snap.Table(name); ok {
				out = append(out, t.Name)
			}
		}
	}
	sort.Strings(out[1:])
	return out
}

// projection lists explicitly mapped columns plus the base key, or every
// base column when none were named.
func (b *queryBuilder) projection(mapping *models.MappingResult, q *ParsedQuery, groupPos int) []string {
	var cols []string
	seen := map[string]bool{}
	add := func(alias string, t *models.TableDescriptor, column string) {
		key := strings.ToLower(t.Name + "." + column)
		if seen[key] {
			return
		}
		seen[key] = true
		expr := alias + "." + b.dialect.QuoteIdentifier(column)
		if alias != "t0" {
			expr += " AS " + b.dialect.QuoteIdentifier(t.Name+"_"+column)
		}
		cols = append(cols, expr)
	}

	for _, t := range mapping.Terms {
		best, ok := t.Best()
		if !ok || best.IsTable() || best.IsValueMatch() || t.Position == groupPos || comparedAt(q, t.Position) {
			continue
		}
		col, ok := resolveColumn(b.snap, best.TableName, best.ColumnName)
		if !ok {
			continue
		}
		alias, ok := b.join(col.table)
		if !ok {
			continue
		}
		if len(cols) == 0 && b.base.PrimaryKey() != "" {
			add("t0", b.base, b.base.PrimaryKey())
		}
		add(alias, col.table, col.column.Name)
	}
	if len(cols) == 0 {
		return []string{"t0.*"}
	}
	return cols
}

// comparedAt reports whether the term at pos is the subject of a comparison,
// in which case it filters rather than projects.
func comparedAt(q *ParsedQuery, pos int) bool {
	for _, c := range q.Comparisons {
		if c.Pos > pos && c.Pos-pos <= 2 {
			return true
		}
	}
	return false
}

func resolveColumn(snap *models.SchemaSnapshot, table, column string) (columnRef, bool) {
	t, ok := snap.Table(table)
	if !ok {
		return columnRef{}, false
	}
	c, ok := t.Column(column)
	if !ok {
		return columnRef{}, false
	}
	return columnRef{table: t, column: c}, true
}

// baseTable picks the table the query selects from: the measure's table, or
// the first mapped table, or the table of the first mapped column.
func baseTable(mapping *models.MappingResult, snap *models.SchemaSnapshot, measure *columnRef, groupPos int) *models.TableDescriptor {
	if measure != nil {
		return measure.table
	}
	for _, t := range mapping.Terms {
		if best, ok := t.Best(); ok && t.Position != groupPos && best.IsTable() {
			if tbl, ok := snap.Table(best.TableName); ok {
				return tbl
			}
		}
	}
	for _, t := range mapping.Terms {
		if best, ok := t.Best(); ok && t.Position != groupPos {
			if tbl, ok := snap.Table(best.TableName); ok {
				return tbl
			}
		}
	}
	return nil
}

// findMeasure returns the first numeric column candidate named after the
// aggregate word, falling back to one named before it.
func findMeasure(q *ParsedQuery, mapping *models.MappingResult, snap *models.SchemaSnapshot, groupPos int) *columnRef {
	var fallback *columnRef
	for _, t := range mapping.Terms {
		if t.Position == groupPos {
			continue
		}
		for _, c := range t.Candidates {
			if c.IsTable() || c.IsValueMatch() {
				continue
			}
			col, ok := resolveColumn(snap, c.TableName, c.ColumnName)
			if !ok || !col.column.IsNumeric() || col.column.IsPrimaryKey || col.column.IsForeignKey {
				continue
			}
			if t.Position > q.AggregatePos {
				return &col
			}
			if fallback == nil {
				fallback = &col
			}
			break
		}
	}
	return fallback
}

// comparisonTarget finds the column a literal constrains: the nearest mapped
// column of a compatible type, preferring terms before the operator, else
// the only compatible column of the base table.
func comparisonTarget(cmp Comparison, mapping *models.MappingResult, base *models.TableDescriptor, snap *models.SchemaSnapshot) (columnRef, bool) {
	var best columnRef
	bestDist := -1
	for _, t := range mapping.Terms {
		for _, c := range t.Candidates {
			if c.IsTable() || c.IsValueMatch() {
				continue
			}
			col, ok := resolveColumn(snap, c.TableName, c.ColumnName)
			if !ok || !compatible(cmp.Kind, col.column) {
				continue
			}
			dist := cmp.Pos - t.Position
			if dist < 0 {
				dist = -dist + 100 // following terms lose to preceding ones
			}
			if bestDist < 0 || dist < bestDist {
				best, bestDist = col, dist
			}
			break
		}
	}
	if bestDist >= 0 {
		return best, true
	}

	var only *models.ColumnDescriptor
	for i := range base.Columns {
		c := &base.Columns[i]
		if c.IsPrimaryKey || c.IsForeignKey || !compatible(cmp.Kind, c) {
			continue
		}
		if only != nil {
			return columnRef{}, false
		}
		only = c
	}
	if only == nil {
		return columnRef{}, false
	}
	return columnRef{table: base, column: only}, true
}

func compatible(kind string, c *models.ColumnDescriptor) bool {
	switch kind {
	case LiteralDate:
		return c.IsTemporal()
	case LiteralYear:
		return c.IsTemporal() || c.IsNumeric()
	default:
		return c.IsNumeric()
	}
}

// groupColumn resolves the GROUP BY target: a mapped column, or the naming
// column of a mapped table.
func groupColumn(mapping *models.MappingResult, snap *models.SchemaSnapshot, groupPos int) (columnRef, bool) {
	for _, t := range mapping.Terms {
		if t.Position != groupPos {
			continue
		}
		best, ok := t.Best()
		if !ok {
			return columnRef{}, false
		}
		if !best.IsTable() {
			return resolveColumn(snap, best.TableName, best.ColumnName)
		}
		tbl, ok := snap.Table(best.TableName)
		if !ok {
			return columnRef{}, false
		}
		for i := range tbl.Columns {
			if tbl.Columns[i].Purpose.Label == "name" {
				return columnRef{table: tbl, column: &tbl.Columns[i]}, true
			}
		}
		for i := range tbl.Columns {
			if tbl.Columns[i].IsText() && !tbl.Columns[i].IsPrimaryKey {
				return columnRef{table: tbl, column: &tbl.Columns[i]}, true
			}
		}
		if pk := tbl.PrimaryKey(); pk != "" {
			return resolveColumn(snap, tbl.Name, pk)
		}
	}
	return columnRef{}, false
}

// joinPath finds the shortest chain of edges linking from to to.
func joinPath(snap *models.SchemaSnapshot, from, to string) []models.RelationshipEdge {
	type step struct {
		table string
		path  []models.RelationshipEdge
	}
	visited := map[string]bool{strings.ToLower(from): true}
	queue := []step{{table: from}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if strings.EqualFold(cur.table, to) {
			return cur.path
		}
		if len(cur.path) >= 3 {
			continue
		}
		edges := append(snap.EdgesFrom(cur.table), snap.EdgesTo(cur.table)...)
		for _, e := range edges {
			if e.Confidence < minJoinConfidence {
				continue
			}
			next := e.ToTable
			if strings.EqualFold(next, cur.table) {
				next = e.FromTable
			}
			if visited[strings.ToLower(next)] {
				continue
			}
			visited[strings.ToLower(next)] = true
			path := append(append([]models.RelationshipEdge(nil), cur.path...), e)
			queue = append(queue, step{table: next, path: path})
		}
	}
	return nil
}

func equalityPredicate(col columnRef, value any) predicate {
	return predicate{
		col:    col,
		params: []models.QueryParameter{{Column: col.name(), Type: "string", Value: value}},
		render: func(c string, ph []string) string {
			return c + " = " + ph[0]
		},
	}
}

func comparisonPredicate(col columnRef, cmp Comparison) predicate {
	paramType := cmp.Kind
	values := cmp.Values
	op := cmp.Op

	if cmp.Kind == LiteralYear {
		year, _ := values[0].(int64)
		if col.column.IsTemporal() {
			paramType = LiteralDate
			start := fmt.Sprintf("%04d-01-01", year)
			end := fmt.Sprintf("%04d-01-01", year+1)
			switch op {
			case ">":
				op, values = ">=", []any{end}
			case ">=":
				values = []any{start}
			case "<":
				values = []any{start}
			case "<=":
				op, values = "<", []any{end}
			case "BETWEEN":
				hi, _ := cmp.Values[1].(int64)
				op, values = "RANGE", []any{start, fmt.Sprintf("%04d-01-01", hi+1)}
			default:
				op, values = "RANGE", []any{start, end}
			}
		} else {
			paramType = LiteralNumber
			if op == "year" {
				op = "="
			}
		}
	}

	params := make([]models.QueryParameter, len(values))
	for i, v := range values {
		params[i] = models.QueryParameter{Column: col.name(), Type: paramType, Value: v}
	}
	return predicate{
		col:    col,
		params: params,
		render: func(c string, ph []string) string {
			switch op {
			case "BETWEEN":
				return c + " BETWEEN " + ph[0] + " AND " + ph[1]
			case "RANGE":
				return c + " >= " + ph[0] + " AND " + c + " < " + ph[1]
			default:
				return c + " " + op + " " + ph[0]
			}
		},
	}
}
