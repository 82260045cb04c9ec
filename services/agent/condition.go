package agent

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ElseHandle is the source handle a Conditional node activates when no
// expression is true.
const ElseHandle = "else"

var errInvalidExpression = errors.New("invalid expression")

// expressionPattern parses `<operand> <op> "literal"`.
var expressionPattern = regexp.MustCompile(`^\s*([A-Za-z0-9_-]+)\s*(==|!=|contains|startsWith|matches)\s*("(?:[^"\\]|\\.)*")\s*$`)

// expression is a parsed Conditional expression.
type expression struct {
	operand string
	op      string
	literal string
	re      *regexp.Regexp
	// constant is set for the literal expressions true and false.
	constant *bool
}

func parseExpression(s string) (*expression, error) {
	switch strings.TrimSpace(s) {
	case "true":
		v := true
		return &expression{constant: &v}, nil
	case "false":
		v := false
		return &expression{constant: &v}, nil
	}

	m := expressionPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", errInvalidExpression, s)
	}
	literal, err := strconv.Unquote(m[3])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", errInvalidExpression, s, err)
	}
	e := &expression{operand: m[1], op: m[2], literal: literal}
	if e.op == "matches" {
		if e.re, err = regexp.Compile(literal); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", errInvalidExpression, s, err)
		}
	}
	return e, nil
}

// eval resolves the operand through lookup. "input" names the node's own
// input; any other operand is a node label.
func (e *expression) eval(lookup func(operand string) (string, bool)) (bool, error) {
	if e.constant != nil {
		return *e.constant, nil
	}
	v, ok := lookup(e.operand)
	if !ok {
		return false, fmt.Errorf("%w: unknown operand %q", errInvalidExpression, e.operand)
	}
	v = strings.TrimSpace(v)
	switch e.op {
	case "==":
		return v == e.literal, nil
	case "!=":
		return v != e.literal, nil
	case "contains":
		return strings.Contains(v, e.literal), nil
	case "startsWith":
		return strings.HasPrefix(v, e.literal), nil
	case "matches":
		return e.re.MatchString(v), nil
	}
	return false, fmt.Errorf("%w: operator %q", errInvalidExpression, e.op)
}

// selectHandle returns the index of the first true expression as the source
// handle, or ElseHandle.
func selectHandle(exprs []string, lookup func(string) (string, bool)) (string, error) {
	for i, raw := range exprs {
		e, err := parseExpression(raw)
		if err != nil {
			return "", err
		}
		ok, err := e.eval(lookup)
		if err != nil {
			return "", err
		}
		if ok {
			return strconv.Itoa(i), nil
		}
	}
	return ElseHandle, nil
}
