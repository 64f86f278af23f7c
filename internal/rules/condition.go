// Package rules implements the approval rule condition language and the
// shared authority comparison used by every rule set.
//
// The condition language is deliberately tiny: field references
// (#totalAmount, #itemCount, #<customField>), a category membership
// marker (#categoryCodes:CODE1,CODE2), numeric and string literals,
// comparison operators and boolean conjunction. Conditions compile to a
// small AST which is walked directly; nothing is ever substituted into
// a general-purpose evaluator.
package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Built-in field names resolvable from every evaluation context.
const (
	FieldTotalAmount = "totalAmount"
	FieldAmount      = "amount"
	FieldItemCount   = "itemCount"

	fieldCategoryCodes = "categoryCodes"
)

// Context carries the caller-supplied values a condition may reference.
// Fields holds the submitted item's custom field map keyed by label or
// key; list-style values (comma-separated) reduce to their element
// count when used in a numeric comparison.
type Context struct {
	TotalAmount   float64
	ItemCount     int
	CategoryCodes []string
	SubmitterID   uuid.UUID
	Fields        map[string]string
}

// FieldType describes a custom field for authoring-time validation.
type FieldType int

const (
	FieldTypeText FieldType = iota
	FieldTypeNumber
	FieldTypeList
)

// ParseError reports a malformed condition. Evaluation never surfaces
// it to rule-set callers; it exists for authoring-time validation.
type ParseError struct {
	Condition string
	Pos       int
	Msg       string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("condition %q: %s (at offset %d)", e.Condition, e.Msg, e.Pos)
}

// --- lexer ---

type tokenKind int

const (
	tokField tokenKind = iota
	tokCategory
	tokNumber
	tokString
	tokOp
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	text  string
	num   float64
	codes []string
	pos   int
}

func isFieldRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func lex(cond string) ([]token, error) {
	var toks []token
	runes := []rune(cond)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '#':
			start := i
			i++
			j := i
			for j < len(runes) && isFieldRune(runes[j]) {
				j++
			}
			if j == i {
				return nil, &ParseError{cond, start, "expected field name after '#'"}
			}
			name := string(runes[i:j])
			i = j
			if name == fieldCategoryCodes && i < len(runes) && runes[i] == ':' {
				i++
				k := i
				for k < len(runes) && (isFieldRune(runes[k]) || runes[k] == ',' || runes[k] == '-') {
					k++
				}
				raw := string(runes[i:k])
				i = k
				var codes []string
				for _, c := range strings.Split(raw, ",") {
					if c = strings.TrimSpace(c); c != "" {
						codes = append(codes, c)
					}
				}
				if len(codes) == 0 {
					return nil, &ParseError{cond, start, "category marker lists no codes"}
				}
				toks = append(toks, token{kind: tokCategory, codes: codes, pos: start})
			} else {
				toks = append(toks, token{kind: tokField, text: name, pos: start})
			}
		case r == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case r == '>' || r == '<' || r == '=' || r == '!':
			start := i
			op := string(r)
			i++
			if i < len(runes) && runes[i] == '=' {
				op += "="
				i++
			}
			if op == "=" {
				op = "=="
			}
			if op == "!" {
				return nil, &ParseError{cond, start, "unknown operator '!'"}
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: start})
		case r == '&' || r == '|':
			start := i
			if i+1 >= len(runes) || runes[i+1] != r {
				return nil, &ParseError{cond, start, fmt.Sprintf("unknown operator %q", string(r))}
			}
			i += 2
			if r == '&' {
				toks = append(toks, token{kind: tokAnd, pos: start})
			} else {
				toks = append(toks, token{kind: tokOr, pos: start})
			}
		case unicode.IsDigit(r):
			start := i
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			num, err := strconv.ParseFloat(string(runes[start:j]), 64)
			if err != nil {
				return nil, &ParseError{cond, start, "malformed number"}
			}
			toks = append(toks, token{kind: tokNumber, num: num, pos: start})
			i = j
		case r == '"' || r == '\'':
			quote := r
			start := i
			i++
			j := i
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, &ParseError{cond, start, "unterminated string"}
			}
			toks = append(toks, token{kind: tokString, text: string(runes[i:j]), pos: start})
			i = j + 1
		case unicode.IsLetter(r):
			start := i
			j := i
			for j < len(runes) && unicode.IsLetter(runes[j]) {
				j++
			}
			word := strings.ToUpper(string(runes[start:j]))
			i = j
			switch word {
			case "AND":
				toks = append(toks, token{kind: tokAnd, pos: start})
			case "OR":
				toks = append(toks, token{kind: tokOr, pos: start})
			default:
				return nil, &ParseError{cond, start, fmt.Sprintf("unknown word %q", word)}
			}
		default:
			return nil, &ParseError{cond, i, fmt.Sprintf("unexpected character %q", string(r))}
		}
	}
	return toks, nil
}

// --- AST ---

type node interface {
	eval(ctx Context) (bool, error)
}

type boolNode struct {
	op          string // "and" or "or"
	left, right node
}

func (n *boolNode) eval(ctx Context) (bool, error) {
	l, err := n.left.eval(ctx)
	if err != nil {
		return false, err
	}
	if n.op == "and" && !l {
		return false, nil
	}
	if n.op == "or" && l {
		return true, nil
	}
	return n.right.eval(ctx)
}

type categoryNode struct {
	codes []string
}

func (n *categoryNode) eval(ctx Context) (bool, error) {
	for _, want := range n.codes {
		for _, have := range ctx.CategoryCodes {
			if strings.EqualFold(want, have) {
				return true, nil
			}
		}
	}
	return false, nil
}

type operand struct {
	field  string // non-empty for field references
	num    float64
	str    string
	isNum  bool
	isStr  bool
}

type compareNode struct {
	op          string
	left, right operand
}

func (n *compareNode) eval(ctx Context) (bool, error) {
	lv, err := resolveOperand(n.left, ctx)
	if err != nil {
		return false, err
	}
	rv, err := resolveOperand(n.right, ctx)
	if err != nil {
		return false, err
	}
	ln, lok := lv.numeric()
	rn, rok := rv.numeric()
	if lok && rok {
		return compareNumbers(n.op, ln, rn)
	}
	return compareStrings(n.op, lv.text, rv.text)
}

type value struct {
	text   string
	num    float64
	hasNum bool
}

func (v value) numeric() (float64, bool) {
	return v.num, v.hasNum
}

func resolveOperand(o operand, ctx Context) (value, error) {
	if o.isNum {
		return value{text: strconv.FormatFloat(o.num, 'f', -1, 64), num: o.num, hasNum: true}, nil
	}
	if o.isStr {
		v := value{text: o.str}
		if n, err := strconv.ParseFloat(o.str, 64); err == nil {
			v.num, v.hasNum = n, true
		}
		return v, nil
	}
	return resolveField(o.field, ctx)
}

func resolveField(name string, ctx Context) (value, error) {
	switch name {
	case FieldTotalAmount, FieldAmount:
		return value{text: strconv.FormatFloat(ctx.TotalAmount, 'f', -1, 64), num: ctx.TotalAmount, hasNum: true}, nil
	case FieldItemCount:
		return value{text: strconv.Itoa(ctx.ItemCount), num: float64(ctx.ItemCount), hasNum: true}, nil
	}
	raw, ok := ctx.Fields[name]
	if !ok {
		return value{}, fmt.Errorf("field %q is not present in the evaluation context", name)
	}
	raw = strings.TrimSpace(raw)
	// List-style fields reduce to their element count when compared
	// numerically; the raw text is kept for string comparison.
	if strings.Contains(raw, ",") {
		n := 0
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) != "" {
				n++
			}
		}
		return value{text: raw, num: float64(n), hasNum: true}, nil
	}
	v := value{text: raw}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		v.num, v.hasNum = n, true
	}
	return v, nil
}

func compareNumbers(op string, l, r float64) (bool, error) {
	switch op {
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

func compareStrings(op string, l, r string) (bool, error) {
	switch op {
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	}
	return false, fmt.Errorf("operator %q requires numeric operands", op)
}

// --- parser ---

type parser struct {
	cond string
	toks []token
	i    int
}

func (p *parser) peek() (token, bool) {
	if p.i >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.i], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.i++
	}
	return t, ok
}

func (p *parser) errf(pos int, format string, args ...any) error {
	return &ParseError{p.cond, pos, fmt.Sprintf(format, args...)}
}

// parseExpr := parseAnd (OR parseAnd)*
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			return left, nil
		}
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolNode{op: "or", left: left, right: right}
	}
}

// parseAnd := primary ((AND)? primary)*; plain juxtaposition of two
// comparisons is conjunction.
func (p *parser) parseAnd() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok {
			return left, nil
		}
		switch t.kind {
		case tokAnd:
			p.next()
		case tokField, tokCategory, tokNumber, tokString, tokLParen:
			// juxtaposition
		default:
			return left, nil
		}
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &boolNode{op: "and", left: left, right: right}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t, ok := p.next()
	if !ok {
		return nil, p.errf(len(p.cond), "unexpected end of condition")
	}
	switch t.kind {
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		close, ok := p.next()
		if !ok || close.kind != tokRParen {
			return nil, p.errf(t.pos, "missing closing parenthesis")
		}
		return inner, nil
	case tokCategory:
		return &categoryNode{codes: t.codes}, nil
	case tokField, tokNumber, tokString:
		left := operandFromToken(t)
		opTok, ok := p.next()
		if !ok || opTok.kind != tokOp {
			return nil, p.errf(t.pos, "expected comparison operator")
		}
		rightTok, ok := p.next()
		if !ok {
			return nil, p.errf(opTok.pos, "expected value after operator %q", opTok.text)
		}
		switch rightTok.kind {
		case tokField, tokNumber, tokString:
		default:
			return nil, p.errf(rightTok.pos, "expected field, number or string")
		}
		return &compareNode{op: opTok.text, left: left, right: operandFromToken(rightTok)}, nil
	default:
		return nil, p.errf(t.pos, "unexpected token")
	}
}

func operandFromToken(t token) operand {
	switch t.kind {
	case tokNumber:
		return operand{num: t.num, isNum: true}
	case tokString:
		return operand{str: t.text, isStr: true}
	default:
		return operand{field: t.text}
	}
}

// Condition is a compiled rule condition. The zero value (or a blank
// expression) is the always-true condition.
type Condition struct {
	raw  string
	root node
}

// Compile parses a condition expression. A blank expression compiles to
// the always-applicable condition.
func Compile(expr string) (*Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Condition{}, nil
	}
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{cond: expr, toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.i != len(p.toks) {
		return nil, p.errf(p.toks[p.i].pos, "trailing tokens after expression")
	}
	return &Condition{raw: expr, root: root}, nil
}

// Eval evaluates the condition against the context. Resolution errors
// (unknown fields, type mismatches) are returned so the caller can log
// them and treat the rule as not matching.
func (c *Condition) Eval(ctx Context) (bool, error) {
	if c.root == nil {
		return true, nil
	}
	return c.root.eval(ctx)
}

// String returns the original expression text.
func (c *Condition) String() string {
	return c.raw
}

// Fields returns the custom field names the condition references,
// excluding built-ins and category markers.
func (c *Condition) Fields() []string {
	var out []string
	seen := make(map[string]struct{})
	var walk func(n node)
	walk = func(n node) {
		switch v := n.(type) {
		case *boolNode:
			walk(v.left)
			walk(v.right)
		case *compareNode:
			for _, o := range []operand{v.left, v.right} {
				if o.field == "" || o.field == FieldTotalAmount || o.field == FieldAmount || o.field == FieldItemCount {
					continue
				}
				if _, ok := seen[o.field]; !ok {
					seen[o.field] = struct{}{}
					out = append(out, o.field)
				}
			}
		}
	}
	if c.root != nil {
		walk(c.root)
	}
	return out
}

// Validate checks the condition against the declared custom field
// types. Text fields used in an ordering comparison are rejected here,
// at authoring time, rather than failing at evaluation time.
func (c *Condition) Validate(fieldTypes map[string]FieldType) error {
	var check func(n node) error
	check = func(n node) error {
		switch v := n.(type) {
		case *boolNode:
			if err := check(v.left); err != nil {
				return err
			}
			return check(v.right)
		case *compareNode:
			ordering := v.op != "==" && v.op != "!="
			if !ordering {
				return nil
			}
			for _, o := range []operand{v.left, v.right} {
				if o.field == "" || o.field == FieldTotalAmount || o.field == FieldAmount || o.field == FieldItemCount {
					continue
				}
				ft, ok := fieldTypes[o.field]
				if !ok {
					return fmt.Errorf("condition references unknown field %q", o.field)
				}
				if ft == FieldTypeText {
					return fmt.Errorf("field %q is text and cannot be used with %q", o.field, v.op)
				}
			}
		}
		return nil
	}
	if c.root == nil {
		return nil
	}
	return check(c.root)
}
