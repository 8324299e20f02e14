package builtin

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"atlas/internal/agent/ports"
)

// CalculatorTool evaluates arithmetic expressions without touching the
// sandbox, so trivial math never costs a container round trip.
type CalculatorTool struct{}

func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "calculator", Category: "utility"}
}

func (t *CalculatorTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "calculator",
		Description: "Evaluate an arithmetic expression. Supports + - * / % ^ and parentheses.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"expression": {Type: "string", Description: "Expression to evaluate, e.g. '(2+3)*4'"},
			},
			Required: []string{"expression"},
		},
	}
}

func (t *CalculatorTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	expr, ok := stringArg(call, "expression")
	if !ok {
		return errResult(call, "calculator requires an 'expression' parameter"), nil
	}

	value, err := evalExpression(expr)
	if err != nil {
		return errResult(call, "invalid expression %q: %v", expr, err), nil
	}

	return &ports.ToolResult{CallID: call.ID, Content: formatNumber(value)}, nil
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// evalExpression is a shunting-yard evaluator over float64.
func evalExpression(expr string) (float64, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, fmt.Errorf("empty expression")
	}

	var output []float64
	var operators []byte

	apply := func(op byte) error {
		if len(output) < 2 {
			return fmt.Errorf("operator %q is missing an operand", string(op))
		}
		b := output[len(output)-1]
		a := output[len(output)-2]
		output = output[:len(output)-2]
		v, err := applyOp(a, b, op)
		if err != nil {
			return err
		}
		output = append(output, v)
		return nil
	}

	for _, tok := range tokens {
		switch tok.kind {
		case tokNumber:
			output = append(output, tok.value)
		case tokOperator:
			for len(operators) > 0 {
				top := operators[len(operators)-1]
				if top == '(' {
					break
				}
				if precedence(top) > precedence(tok.op) ||
					(precedence(top) == precedence(tok.op) && tok.op != '^') {
					operators = operators[:len(operators)-1]
					if err := apply(top); err != nil {
						return 0, err
					}
					continue
				}
				break
			}
			operators = append(operators, tok.op)
		case tokLeftParen:
			operators = append(operators, '(')
		case tokRightParen:
			matched := false
			for len(operators) > 0 {
				top := operators[len(operators)-1]
				operators = operators[:len(operators)-1]
				if top == '(' {
					matched = true
					break
				}
				if err := apply(top); err != nil {
					return 0, err
				}
			}
			if !matched {
				return 0, fmt.Errorf("unbalanced parentheses")
			}
		}
	}

	for len(operators) > 0 {
		top := operators[len(operators)-1]
		operators = operators[:len(operators)-1]
		if top == '(' {
			return 0, fmt.Errorf("unbalanced parentheses")
		}
		if err := apply(top); err != nil {
			return 0, err
		}
	}

	if len(output) != 1 {
		return 0, fmt.Errorf("malformed expression")
	}
	result := output[0]
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return result, nil
}

func applyOp(a, b float64, op byte) (float64, error) {
	switch op {
	case '+':
		return a + b, nil
	case '-':
		return a - b, nil
	case '*':
		return a * b, nil
	case '/':
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	case '%':
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return math.Mod(a, b), nil
	case '^':
		return math.Pow(a, b), nil
	}
	return 0, fmt.Errorf("unknown operator %q", string(op))
}

func precedence(op byte) int {
	switch op {
	case '+', '-':
		return 1
	case '*', '/', '%':
		return 2
	case '^':
		return 3
	}
	return 0
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokOperator
	tokLeftParen
	tokRightParen
)

type token struct {
	kind  tokenKind
	value float64
	op    byte
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	prevWasValue := false
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			// scientific notation like 1e-3
			if j < len(expr) && (expr[j] == 'e' || expr[j] == 'E') {
				k := j + 1
				if k < len(expr) && (expr[k] == '+' || expr[k] == '-') {
					k++
				}
				if k < len(expr) && expr[k] >= '0' && expr[k] <= '9' {
					for k < len(expr) && expr[k] >= '0' && expr[k] <= '9' {
						k++
					}
					j = k
				}
			}
			v, err := strconv.ParseFloat(expr[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", expr[i:j])
			}
			tokens = append(tokens, token{kind: tokNumber, value: v})
			prevWasValue = true
			i = j
		case c == '(':
			tokens = append(tokens, token{kind: tokLeftParen})
			prevWasValue = false
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRightParen})
			prevWasValue = true
			i++
		case strings.IndexByte("+-*/%^", c) >= 0:
			// unary minus folds into the literal
			if c == '-' && !prevWasValue {
				tokens = append(tokens, token{kind: tokNumber, value: 0})
			} else if c == '+' && !prevWasValue {
				i++
				continue
			}
			tokens = append(tokens, token{kind: tokOperator, op: c})
			prevWasValue = false
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", string(c))
		}
	}
	return tokens, nil
}
