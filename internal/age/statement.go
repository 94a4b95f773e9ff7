package age

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"kraph/core/internal/kgerr"
	"kraph/core/internal/names"
)

// Statement is one Cypher statement executed through ag_catalog.cypher.
//
// Graph, Label and Columns are interpolated into the SQL text and must be
// valid identifiers. Every value reaches the engine through Params, which
// is sent as the single agtype parameter of the call; Body refers to them
// as $name.
type Statement struct {
	Op      string // operation code, e.g. "vertex.create"
	Graph   string
	Label   string // primary label written or matched, informational
	Body    string
	Columns []string // result columns, defaults to a single "result"
	Params  map[string]any
}

func (s Statement) columns() []string {
	if len(s.Columns) == 0 {
		return []string{"result"}
	}
	return s.Columns
}

// SQL renders the statement and its driver arguments.
func (s Statement) SQL() (string, []any, error) {
	if err := names.Validate(s.Graph); err != nil {
		return "", nil, fmt.Errorf("statement %s graph: %w", s.Op, err)
	}
	if s.Label != "" {
		if err := names.Validate(s.Label); err != nil {
			return "", nil, fmt.Errorf("statement %s label: %w", s.Op, err)
		}
	}
	if strings.Contains(s.Body, "$$") {
		return "", nil, kgerr.New(kgerr.KindValidation, "age.Statement", "cypher body of %s must not contain $$", s.Op)
	}

	cols := s.columns()
	defs := make([]string, len(cols))
	for i, c := range cols {
		if err := names.Validate(c); err != nil {
			return "", nil, fmt.Errorf("statement %s column: %w", s.Op, err)
		}
		defs[i] = c + " agtype"
	}

	var (
		b    strings.Builder
		args []any
	)
	b.WriteString("SELECT * FROM ag_catalog.cypher(")
	b.WriteString(pq.QuoteLiteral(s.Graph))
	b.WriteString(", $$ ")
	b.WriteString(s.Body)
	b.WriteString(" $$")
	if len(s.Params) > 0 {
		params, err := json.Marshal(s.Params)
		if err != nil {
			return "", nil, kgerr.Wrap(kgerr.KindValidation, "age.Statement", err, "encoding parameters of %s", s.Op)
		}
		b.WriteString(", $1")
		args = append(args, string(params))
	}
	b.WriteString(") AS (")
	b.WriteString(strings.Join(defs, ", "))
	b.WriteString(")")
	return b.String(), args, nil
}

// Row is one result row; each cell is the agtype text of a column, with SQL
// NULL rendered as "null".
type Row []string

// One returns the single row of a mutation, or ERR_NO_ROW.
func One(op string, rows []Row) (Row, error) {
	if len(rows) == 0 {
		return nil, kgerr.New(kgerr.KindNoRow, op, "expected one row, got none")
	}
	return rows[0], nil
}

// SequenceSpec describes a relational sequence living in a graph's schema.
type SequenceSpec struct {
	Name  string
	Start int64
	Step  int64
	Min   int64
	Max   *int64
	Cycle bool
}

// Validate checks the sequence bounds.
func (s SequenceSpec) Validate() error {
	if err := names.Validate(s.Name); err != nil {
		return err
	}
	switch {
	case s.Step == 0:
		return kgerr.New(kgerr.KindValidation, "age.SequenceSpec", "sequence %s: step must not be 0", s.Name)
	case s.Start < s.Min:
		return kgerr.New(kgerr.KindValidation, "age.SequenceSpec", "sequence %s: start %d below min %d", s.Name, s.Start, s.Min)
	case s.Max != nil && *s.Max < s.Start:
		return kgerr.New(kgerr.KindValidation, "age.SequenceSpec", "sequence %s: max %d below start %d", s.Name, *s.Max, s.Start)
	}
	return nil
}

// DDL renders CREATE SEQUENCE. Postgres cannot bind DDL operands, so the
// bounds are formatted as integers and the names are quoted identifiers.
func (s SequenceSpec) DDL(graph string) (string, error) {
	if err := names.Validate(graph); err != nil {
		return "", err
	}
	if err := s.Validate(); err != nil {
		return "", err
	}
	maxClause := "NO MAXVALUE"
	if s.Max != nil {
		maxClause = fmt.Sprintf("MAXVALUE %d", *s.Max)
	}
	cycle := "NO CYCLE"
	if s.Cycle {
		cycle = "CYCLE"
	}
	return fmt.Sprintf("CREATE SEQUENCE %s.%s INCREMENT BY %d MINVALUE %d %s START WITH %d %s",
		pq.QuoteIdentifier(graph), pq.QuoteIdentifier(s.Name), s.Step, s.Min, maxClause, s.Start, cycle), nil
}

// QualifiedSequence is the regclass text nextval resolves. Both parts are
// quoted so mixed-case event labels keep their case.
func QualifiedSequence(graph, name string) string {
	return pq.QuoteIdentifier(graph) + "." + pq.QuoteIdentifier(name)
}
