// Package awstest provides in-memory fakes of the DynamoDB and SQS interfaces for unit tests.
//
// The DynamoDB fake understands the small expression grammar this service uses:
// SET clauses with comma separated assignments, and conditions made of
// attribute_exists / attribute_not_exists / comparison terms joined by AND and OR, with AND
// binding tighter and no parentheses. Like the real clients, every call fails once its
// context is done.
package awstest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// Dynamo is a goroutine-safe fake DynamoDB.
type Dynamo struct {
	mu     sync.Mutex
	keys   map[string]string // table -> partition key attribute
	tables map[string]map[string]item

	// Fail, when set, is consulted before every call; a non-nil result is returned as the call's error.
	Fail func(op, table string) error

	Calls map[string]int
}

// NewDynamo returns a fake with the given tables (name -> key attribute).
func NewDynamo(tables map[string]string) *Dynamo {
	d := &Dynamo{
		keys:   map[string]string{},
		tables: map[string]map[string]item{},
		Calls:  map[string]int{},
	}
	for name, key := range tables {
		d.keys[name] = key
		d.tables[name] = map[string]item{}
	}
	return d
}

// Item returns a copy of the stored item, or nil.
func (d *Dynamo) Item(table, key string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	it, ok := d.tables[table][key]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Len returns the number of items in table.
func (d *Dynamo) Len(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[table])
}

// Seed stores it directly, bypassing conditions.
func (d *Dynamo) Seed(table string, it map[string]types.AttributeValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := stringValue(it[d.keys[table]])
	d.tables[table][k] = copyItem(it)
}

func (d *Dynamo) begin(ctx context.Context, op string, table *string) (string, error) {
	if table == nil {
		return "", fmt.Errorf("%s: missing table name", op)
	}
	d.Calls[op]++
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if _, ok := d.tables[*table]; !ok {
		return "", &types.ResourceNotFoundException{Message: strPtr("table " + *table)}
	}
	if d.Fail != nil {
		if err := d.Fail(op, *table); err != nil {
			return "", err
		}
	}
	return *table, nil
}

func (d *Dynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table, err := d.begin(ctx, "PutItem", in.TableName)
	if err != nil {
		return nil, err
	}
	k := stringValue(in.Item[d.keys[table]])
	if k == "" {
		return nil, fmt.Errorf("PutItem: missing key attribute %s", d.keys[table])
	}
	current := d.tables[table][k]
	if err := check(in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	d.tables[table][k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table, err := d.begin(ctx, "GetItem", in.TableName)
	if err != nil {
		return nil, err
	}
	it, ok := d.tables[table][stringValue(in.Key[d.keys[table]])]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (d *Dynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table, err := d.begin(ctx, "DeleteItem", in.TableName)
	if err != nil {
		return nil, err
	}
	k := stringValue(in.Key[d.keys[table]])
	current := d.tables[table][k]
	if err := check(in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	delete(d.tables[table], k)
	return &dyn.DeleteItemOutput{}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table, err := d.begin(ctx, "UpdateItem", in.TableName)
	if err != nil {
		return nil, err
	}
	keyAttr := d.keys[table]
	k := stringValue(in.Key[keyAttr])
	current, exists := d.tables[table][k]
	if err := check(in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	next := item{}
	if exists {
		next = copyItem(current)
	} else {
		next[keyAttr] = in.Key[keyAttr]
	}
	if in.UpdateExpression != nil {
		expr := strings.TrimSpace(*in.UpdateExpression)
		if !strings.HasPrefix(expr, "SET ") {
			return nil, fmt.Errorf("UpdateItem: unsupported update expression %q", expr)
		}
		for _, assign := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
			parts := strings.SplitN(assign, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("UpdateItem: bad assignment %q", assign)
			}
			name := resolveName(strings.TrimSpace(parts[0]), in.ExpressionAttributeNames)
			v, ok := in.ExpressionAttributeValues[strings.TrimSpace(parts[1])]
			if !ok {
				return nil, fmt.Errorf("UpdateItem: missing value %s", parts[1])
			}
			next[name] = v
		}
	}
	d.tables[table][k] = next
	return &dyn.UpdateItemOutput{Attributes: copyItem(next)}, nil
}

func check(cond *string, current item, names map[string]string, values map[string]types.AttributeValue) error {
	if cond == nil || *cond == "" {
		return nil
	}
	ok, err := eval(*cond, current, names, values)
	if err != nil {
		return err
	}
	if !ok {
		return &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	return nil
}

func eval(expr string, current item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	for _, clause := range strings.Split(expr, " OR ") {
		ok, err := evalAll(clause, current, names, values)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func evalAll(clause string, current item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	for _, term := range strings.Split(clause, " AND ") {
		ok, err := evalTerm(strings.TrimSpace(term), current, names, values)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalTerm(term string, current item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if strings.HasPrefix(term, "attribute_not_exists(") || strings.HasPrefix(term, "attribute_exists(") {
		open := strings.Index(term, "(")
		name := resolveName(strings.TrimSuffix(term[open+1:], ")"), names)
		_, present := current[name]
		if strings.HasPrefix(term, "attribute_not_exists(") {
			return !present, nil
		}
		return present, nil
	}
	for _, op := range []string{"<=", ">=", "<>", "=", "<", ">"} {
		idx := strings.Index(term, " "+op+" ")
		if idx < 0 {
			continue
		}
		name := resolveName(strings.TrimSpace(term[:idx]), names)
		want, ok := values[strings.TrimSpace(term[idx+len(op)+2:])]
		if !ok {
			return false, fmt.Errorf("condition %q: missing value", term)
		}
		got, present := current[name]
		if !present {
			return false, nil
		}
		return compare(got, want, op)
	}
	return false, fmt.Errorf("unsupported condition term %q", term)
}

func compare(got, want types.AttributeValue, op string) (bool, error) {
	var c int
	switch g := got.(type) {
	case *types.AttributeValueMemberN:
		w, ok := want.(*types.AttributeValueMemberN)
		if !ok {
			return false, nil
		}
		gf, err := strconv.ParseFloat(g.Value, 64)
		if err != nil {
			return false, err
		}
		wf, err := strconv.ParseFloat(w.Value, 64)
		if err != nil {
			return false, err
		}
		switch {
		case gf < wf:
			c = -1
		case gf > wf:
			c = 1
		}
	case *types.AttributeValueMemberS:
		w, ok := want.(*types.AttributeValueMemberS)
		if !ok {
			return false, nil
		}
		c = strings.Compare(g.Value, w.Value)
	case *types.AttributeValueMemberBOOL:
		w, ok := want.(*types.AttributeValueMemberBOOL)
		if !ok {
			return false, nil
		}
		if g.Value != w.Value {
			c = 1
		}
	default:
		return false, fmt.Errorf("unsupported attribute type %T", got)
	}
	switch op {
	case "=":
		return c == 0, nil
	case "<>":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unsupported operator %s", op)
}

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if real, ok := names[name]; ok {
			return real
		}
	}
	return name
}

func stringValue(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func copyItem(in item) item {
	out := make(item, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }
