package godatautil

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	sb "fknsrs.biz/p/sqlbuilder"
	"github.com/gost/godata"

	"fknsrs.biz/p/ytcampaigns/internal/sqlbuilderutil"
)

var (
	ErrFieldNotFound = fmt.Errorf("field not found")
)

// ParseQuery reads the $filter, $orderby, $top and $skip options from a
// request's query string. Other options are ignored.
func ParseQuery(values url.Values) (*godata.GoDataQuery, error) {
	var q godata.GoDataQuery

	if s := values.Get("$filter"); s != "" {
		filter, err := godata.ParseFilterString(s)
		if err != nil {
			return nil, fmt.Errorf("godatautil.ParseQuery: invalid $filter: %w", err)
		}
		q.Filter = filter
	}

	if s := values.Get("$orderby"); s != "" {
		orderBy, err := godata.ParseOrderByString(s)
		if err != nil {
			return nil, fmt.Errorf("godatautil.ParseQuery: invalid $orderby: %w", err)
		}
		q.OrderBy = orderBy
	}

	if s := values.Get("$top"); s != "" {
		top, err := godata.ParseTopString(s)
		if err != nil {
			return nil, fmt.Errorf("godatautil.ParseQuery: invalid $top: %w", err)
		}
		q.Top = top
	}

	if s := values.Get("$skip"); s != "" {
		skip, err := godata.ParseSkipString(s)
		if err != nil {
			return nil, fmt.Errorf("godatautil.ParseQuery: invalid $skip: %w", err)
		}
		q.Skip = skip
	}

	return &q, nil
}

func MakeCondition(q *godata.GoDataQuery, table *sqlbuilderutil.Table) (sb.AsExpr, error) {
	if q == nil || q.Filter == nil || q.Filter.Tree == nil {
		return nil, nil
	}

	expr, err := makeCondition(q.Filter.Tree, table)
	if err != nil {
		return nil, fmt.Errorf("godatautil.MakeCondition: %w", err)
	}

	return expr, nil
}

var comparisonOperators = map[string]string{
	"eq": "=",
	"ne": "<>",
	"gt": ">",
	"ge": ">=",
	"lt": "<",
	"le": "<=",
}

func makeCondition(n *godata.ParseNode, table *sqlbuilderutil.Table) (sb.AsExpr, error) {
	switch n.Token.Type {
	case godata.FilterTokenLogical:
		op := strings.ToLower(strings.TrimSpace(n.Token.Value))

		if sqlOp, ok := comparisonOperators[op]; ok {
			return makeComparison(op, sqlOp, n, table)
		}

		var a []sb.AsExpr
		for _, e := range n.Children {
			expr, err := makeCondition(e, table)
			if err != nil {
				return nil, fmt.Errorf("godatautil.makeCondition: %w", err)
			}
			a = append(a, expr)
		}
		switch op {
		case "and", "or":
			return sb.BooleanOperator(op, a...), nil
		default:
			return nil, fmt.Errorf("godatautil.makeCondition: unrecognised logical filter type %q", n.Token.Value)
		}
	case godata.FilterTokenFunc:
		switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(n.Token.Value)), "(") {
		case "substringof", "contains":
			if len(n.Children) != 2 {
				return nil, fmt.Errorf("godatautil.makeCondition: %s must have exactly two arguments; instead had %d", n.Token.Value, len(n.Children))
			}

			field, value := n.Children[0], n.Children[1]
			if field.Token.Type == godata.FilterTokenString {
				field, value = value, field
			}

			if tokenType := field.Token.Type; tokenType != godata.FilterTokenLiteral {
				return nil, fmt.Errorf("godatautil.makeCondition: %s needs a field argument; had %s", n.Token.Value, filterTokenName(tokenType))
			}
			if tokenType := value.Token.Type; tokenType != godata.FilterTokenString {
				return nil, fmt.Errorf("godatautil.makeCondition: %s needs a String argument; had %s", n.Token.Value, filterTokenName(tokenType))
			}

			c, ok := table.Column(field.Token.Value)
			if !ok {
				return nil, fmt.Errorf("godatautil.makeCondition: could not find field %q: %w", field.Token.Value, ErrFieldNotFound)
			}

			return sb.Ne(
				sb.Func(
					"instr",
					sb.Func("lower", c),
					sb.Bind(strings.ToLower(unquote(value.Token.Value))),
				),
				sb.Literal("0"),
			), nil
		default:
			return nil, fmt.Errorf("godatautil.makeCondition: unrecognised function %s", n.Token.Value)
		}
	default:
		return nil, fmt.Errorf("godatautil.makeCondition: unrecognised token type %d (%s)", n.Token.Type, filterTokenName(n.Token.Type))
	}
}

func makeComparison(op, sqlOp string, n *godata.ParseNode, table *sqlbuilderutil.Table) (sb.AsExpr, error) {
	if len(n.Children) != 2 {
		return nil, fmt.Errorf("godatautil.makeComparison: %s must have exactly two operands; instead had %d", op, len(n.Children))
	}

	field, value := n.Children[0], n.Children[1]
	if field.Token.Type != godata.FilterTokenLiteral {
		return nil, fmt.Errorf("godatautil.makeComparison: left side of %s must be a field; was instead %s", op, filterTokenName(field.Token.Type))
	}

	c, ok := table.Column(field.Token.Value)
	if !ok {
		return nil, fmt.Errorf("godatautil.makeComparison: could not find field %q: %w", field.Token.Value, ErrFieldNotFound)
	}

	if value.Token.Type == godata.FilterTokenNull {
		switch op {
		case "eq":
			return sb.BinaryOperator("is", c, sb.Literal("null")), nil
		case "ne":
			return sb.BinaryOperator("is not", c, sb.Literal("null")), nil
		default:
			return nil, fmt.Errorf("godatautil.makeComparison: null can only be compared with eq or ne")
		}
	}

	v, err := literalValue(value)
	if err != nil {
		return nil, fmt.Errorf("godatautil.makeComparison: %w", err)
	}

	return sb.BinaryOperator(sqlOp, c, sb.Bind(v)), nil
}

func literalValue(n *godata.ParseNode) (interface{}, error) {
	switch n.Token.Type {
	case godata.FilterTokenString:
		return unquote(n.Token.Value), nil
	case godata.FilterTokenInteger:
		v, err := strconv.ParseInt(n.Token.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("godatautil.literalValue: %w", err)
		}
		return v, nil
	case godata.FilterTokenFloat:
		v, err := strconv.ParseFloat(n.Token.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("godatautil.literalValue: %w", err)
		}
		return v, nil
	case godata.FilterTokenBoolean:
		return strings.EqualFold(n.Token.Value, "true"), nil
	case godata.FilterTokenDate, godata.FilterTokenDateTime:
		return n.Token.Value, nil
	default:
		return nil, fmt.Errorf("godatautil.literalValue: unsupported value type %s", filterTokenName(n.Token.Type))
	}
}

func filterTokenName(tokenType int) string {
	switch tokenType {
	case godata.FilterTokenOpenParen: // 0
		return "OpenParen"
	case godata.FilterTokenCloseParen: // 1
		return "CloseParen"
	case godata.FilterTokenWhitespace: // 2
		return "Whitespace"
	case godata.FilterTokenNav: // 3
		return "Nav"
	case godata.FilterTokenColon: // 4
		return "Colon"
	case godata.FilterTokenComma: // 5
		return "Comma"
	case godata.FilterTokenLogical: // 6
		return "Logical"
	case godata.FilterTokenOp: // 7
		return "Op"
	case godata.FilterTokenFunc: // 8
		return "Func"
	case godata.FilterTokenLambda: // 9
		return "Lambda"
	case godata.FilterTokenNull: // 10
		return "Null"
	case godata.FilterTokenIt: // 11
		return "It"
	case godata.FilterTokenRoot: // 12
		return "Root"
	case godata.FilterTokenFloat: // 13
		return "Float"
	case godata.FilterTokenInteger: // 14
		return "Integer"
	case godata.FilterTokenString: // 15
		return "String"
	case godata.FilterTokenDate: // 16
		return "Date"
	case godata.FilterTokenTime: // 17
		return "Time"
	case godata.FilterTokenDateTime: // 18
		return "DateTime"
	case godata.FilterTokenBoolean: // 19
		return "Boolean"
	case godata.FilterTokenLiteral: // 20
		return "Literal"
	case godata.FilterTokenGeography: // 21
		return "Geography"
	default:
		return "???" // ??
	}
}

func MakeOrders(q *godata.GoDataQuery, table *sqlbuilderutil.Table, defaultOrders ...sb.AsOrderingTerm) ([]sb.AsOrderingTerm, error) {
	if q == nil || q.OrderBy == nil || len(q.OrderBy.OrderByItems) == 0 {
		return defaultOrders, nil
	}

	var a []sb.AsOrderingTerm

	for _, item := range q.OrderBy.OrderByItems {
		c, ok := table.Column(item.Field.Value)
		if !ok {
			return nil, fmt.Errorf("godatautil.MakeOrders: could not find field %q: %w", item.Field.Value, ErrFieldNotFound)
		}

		switch strings.ToLower(item.Order) {
		case "desc":
			a = append(a, sb.OrderDesc(c))
		default:
			a = append(a, sb.OrderAsc(c))
		}
	}

	return a, nil
}

// MakeOffsetLimit applies $skip and $top, capping $top at maxTop.
func MakeOffsetLimit(q *godata.GoDataQuery, defaultSkip, defaultTop, maxTop int) *sb.OffsetLimitClause {
	skip := defaultSkip
	if q != nil && q.Skip != nil {
		skip = int(*q.Skip)
	}

	top := defaultTop
	if q != nil && q.Top != nil {
		top = int(*q.Top)
	}

	if skip < 0 {
		skip = 0
	}
	if top < 0 || (maxTop > 0 && top > maxTop) {
		top = maxTop
	}

	return sb.OffsetLimit(sb.Bind(skip), sb.Bind(top))
}

func unquote(s string) string {
	if len(s) < 2 {
		return s
	}

	return strings.Replace(s[1:len(s)-1], "''", "'", -1)
}
