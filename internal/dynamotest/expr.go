package dynamotest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// evalCondition evaluates a condition expression against item (which may be nil).
// An empty expression is always true.
func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, clause := range splitTopLevel(expr, " AND ") {
		ok, err := evalClause(strings.TrimSpace(clause), item, names, values)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

var comparators = []string{" >= ", " <= ", " <> ", " = ", " > ", " < "}

func evalClause(clause string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if fn, arg, ok := call(clause); ok {
		path, err := resolvePath(arg, names)
		if err != nil {
			return false, err
		}
		_, exists := lookup(item, path)
		switch fn {
		case "attribute_exists":
			return exists, nil
		case "attribute_not_exists":
			return !exists, nil
		default:
			return false, fmt.Errorf("dynamotest: unsupported condition function %q", fn)
		}
	}
	for _, op := range comparators {
		idx := strings.Index(clause, op)
		if idx < 0 {
			continue
		}
		left, lok, err := operand(strings.TrimSpace(clause[:idx]), item, names, values)
		if err != nil {
			return false, err
		}
		right, rok, err := operand(strings.TrimSpace(clause[idx+len(op):]), item, names, values)
		if err != nil {
			return false, err
		}
		if !lok || !rok {
			return false, nil
		}
		cmp, comparable := compare(left, right)
		if !comparable {
			return strings.TrimSpace(op) == "<>", nil
		}
		switch strings.TrimSpace(op) {
		case "=":
			return cmp == 0, nil
		case "<>":
			return cmp != 0, nil
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		case ">=":
			return cmp >= 0, nil
		}
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", clause)
}

// applyUpdate mutates item according to a SET/REMOVE update expression.
func applyUpdate(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	for _, section := range splitSections(expr) {
		switch section.keyword {
		case "SET":
			for _, assign := range splitTopLevel(section.body, ",") {
				eq := strings.Index(assign, "=")
				if eq < 0 {
					return fmt.Errorf("dynamotest: bad SET clause %q", assign)
				}
				path, err := resolvePath(strings.TrimSpace(assign[:eq]), names)
				if err != nil {
					return err
				}
				v, err := evalValue(strings.TrimSpace(assign[eq+1:]), item, names, values)
				if err != nil {
					return err
				}
				if err := store(item, path, v); err != nil {
					return err
				}
			}
		case "REMOVE":
			for _, p := range splitTopLevel(section.body, ",") {
				path, err := resolvePath(strings.TrimSpace(p), names)
				if err != nil {
					return err
				}
				remove(item, path)
			}
		default:
			return fmt.Errorf("dynamotest: unsupported update section %q", section.keyword)
		}
	}
	return nil
}

// evalValue handles "a + b", "a - b" and single operands.
func evalValue(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	for _, op := range []string{" + ", " - "} {
		parts := splitTopLevel(expr, op)
		if len(parts) != 2 {
			continue
		}
		l, lok, err := operand(strings.TrimSpace(parts[0]), item, names, values)
		if err != nil {
			return nil, err
		}
		r, rok, err := operand(strings.TrimSpace(parts[1]), item, names, values)
		if err != nil {
			return nil, err
		}
		if !lok || !rok {
			return nil, fmt.Errorf("dynamotest: arithmetic on missing attribute in %q", expr)
		}
		a, aok := number(l)
		b, bok := number(r)
		if !aok || !bok {
			return nil, fmt.Errorf("dynamotest: arithmetic on non-number in %q", expr)
		}
		if op == " + " {
			return numberValue(a + b), nil
		}
		return numberValue(a - b), nil
	}
	v, ok, err := operand(expr, item, names, values)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("dynamotest: missing attribute in %q", expr)
	}
	return v, nil
}

// operand resolves a value placeholder, a path or if_not_exists(path, operand).
// The bool result is false when a path does not exist.
func operand(tok string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, bool, error) {
	if strings.HasPrefix(tok, ":") {
		v, ok := values[tok]
		if !ok {
			return nil, false, fmt.Errorf("dynamotest: missing expression value %s", tok)
		}
		return v, true, nil
	}
	if fn, args, ok := call(tok); ok {
		if fn != "if_not_exists" {
			return nil, false, fmt.Errorf("dynamotest: unsupported function %q", fn)
		}
		parts := splitTopLevel(args, ",")
		if len(parts) != 2 {
			return nil, false, fmt.Errorf("dynamotest: if_not_exists needs two arguments")
		}
		path, err := resolvePath(strings.TrimSpace(parts[0]), names)
		if err != nil {
			return nil, false, err
		}
		if v, exists := lookup(item, path); exists {
			return v, true, nil
		}
		return operand(strings.TrimSpace(parts[1]), item, names, values)
	}
	path, err := resolvePath(tok, names)
	if err != nil {
		return nil, false, err
	}
	v, exists := lookup(item, path)
	return v, exists, nil
}

func call(tok string) (string, string, bool) {
	open := strings.Index(tok, "(")
	if open <= 0 || !strings.HasSuffix(tok, ")") {
		return "", "", false
	}
	name := tok[:open]
	if strings.ContainsAny(name, " #:.") {
		return "", "", false
	}
	return name, tok[open+1 : len(tok)-1], true
}

func resolvePath(raw string, names map[string]string) ([]string, error) {
	segs := strings.Split(strings.TrimSpace(raw), ".")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if strings.HasPrefix(s, "#") {
			n, ok := names[s]
			if !ok {
				return nil, fmt.Errorf("dynamotest: missing expression name %s", s)
			}
			s = n
		}
		if s == "" {
			return nil, fmt.Errorf("dynamotest: empty path segment in %q", raw)
		}
		out = append(out, s)
	}
	return out, nil
}

func lookup(item map[string]types.AttributeValue, path []string) (types.AttributeValue, bool) {
	if item == nil {
		return nil, false
	}
	cur := item
	for i, seg := range path {
		v, ok := cur[seg]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return v, true
		}
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false
		}
		cur = m.Value
	}
	return nil, false
}

func store(item map[string]types.AttributeValue, path []string, v types.AttributeValue) error {
	cur := item
	for i, seg := range path {
		if i == len(path)-1 {
			cur[seg] = cloneValue(v)
			return nil
		}
		m, ok := cur[seg].(*types.AttributeValueMemberM)
		if !ok {
			return fmt.Errorf("dynamotest: document path %q does not exist", strings.Join(path[:i+1], "."))
		}
		cur = m.Value
	}
	return nil
}

func remove(item map[string]types.AttributeValue, path []string) {
	cur := item
	for i, seg := range path {
		if i == len(path)-1 {
			delete(cur, seg)
			return
		}
		m, ok := cur[seg].(*types.AttributeValueMemberM)
		if !ok {
			return
		}
		cur = m.Value
	}
}

type section struct {
	keyword string
	body    string
}

func splitSections(expr string) []section {
	var out []section
	fields := strings.Fields(expr)
	var cur *section
	for _, f := range fields {
		if f == "SET" || f == "REMOVE" || f == "ADD" || f == "DELETE" {
			out = append(out, section{keyword: f})
			cur = &out[len(out)-1]
			continue
		}
		if cur == nil {
			out = append(out, section{keyword: "SET"})
			cur = &out[len(out)-1]
		}
		if cur.body != "" {
			cur.body += " "
		}
		cur.body += f
	}
	return out
}

// splitTopLevel splits s on sep outside of parentheses.
func splitTopLevel(s, sep string) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && strings.HasPrefix(s[i:], sep) {
			out = append(out, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	return append(out, s[start:])
}

func number(v types.AttributeValue) (float64, bool) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.Value, 64)
	return f, err == nil
}

func numberValue(f float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'f', -1, 64)}
}

func scalarString(v types.AttributeValue) (string, bool) {
	switch t := v.(type) {
	case *types.AttributeValueMemberS:
		return t.Value, true
	case *types.AttributeValueMemberN:
		return t.Value, true
	}
	return "", false
}

// compare returns -1/0/1 and whether the two values are of comparable types.
func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		x, _ := number(av)
		y, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, false
		}
		if av.Value == bv.Value {
			return 0, true
		}
		return 1, true
	}
	return 0, false
}

func cloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v types.AttributeValue) types.AttributeValue {
	switch t := v.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: t.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: t.Value}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: t.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: t.Value}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: cloneItem(t.Value)}
	case *types.AttributeValueMemberL:
		l := make([]types.AttributeValue, len(t.Value))
		for i, e := range t.Value {
			l[i] = cloneValue(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), t.Value...)}
	}
	return v
}
