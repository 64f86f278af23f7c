package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eval(t *testing.T, expr string, ctx Context) bool {
	t.Helper()
	cond, err := Compile(expr)
	require.NoError(t, err)
	result, err := cond.Eval(ctx)
	require.NoError(t, err)
	return result
}

func TestCompile_BlankIsAlwaysTrue(t *testing.T) {
	assert.True(t, eval(t, "", Context{}))
	assert.True(t, eval(t, "   ", Context{TotalAmount: 12345}))
}

func TestEval_AmountThreshold(t *testing.T) {
	assert.True(t, eval(t, "#totalAmount > 100000", Context{TotalAmount: 150000}))
	assert.False(t, eval(t, "#totalAmount > 100000", Context{TotalAmount: 100000}))
	assert.True(t, eval(t, "#totalAmount >= 100000", Context{TotalAmount: 100000}))

	// #amount is an alias for the total.
	assert.True(t, eval(t, "#amount <= 500", Context{TotalAmount: 500}))
}

func TestEval_ItemCount(t *testing.T) {
	assert.True(t, eval(t, "#itemCount == 3", Context{ItemCount: 3}))
	assert.True(t, eval(t, "#itemCount != 3", Context{ItemCount: 4}))
}

func TestEval_CategoryMembership(t *testing.T) {
	ctx := Context{CategoryCodes: []string{"TRAVEL", "MEALS"}}

	assert.True(t, eval(t, "#categoryCodes:TRAVEL", ctx))
	assert.True(t, eval(t, "#categoryCodes:HOTEL,MEALS", ctx))
	assert.False(t, eval(t, "#categoryCodes:HOTEL", ctx))
}

func TestEval_CustomFields(t *testing.T) {
	ctx := Context{Fields: map[string]string{
		"costCenter": "CC-42",
		"nights":     "4",
		"attendees":  "kim, lee, park",
	}}

	assert.True(t, eval(t, `#costCenter == "CC-42"`, ctx))
	assert.False(t, eval(t, `#costCenter != "CC-42"`, ctx))

	// Numeric-looking text compares as a number.
	assert.True(t, eval(t, "#nights >= 3", ctx))

	// Comma lists reduce to their element count for numeric use.
	assert.True(t, eval(t, "#attendees >= 3", ctx))
	assert.False(t, eval(t, "#attendees > 3", ctx))
}

func TestEval_Conjunction(t *testing.T) {
	ctx := Context{TotalAmount: 200000, ItemCount: 2}

	assert.True(t, eval(t, "#totalAmount > 100000 AND #itemCount < 5", ctx))
	assert.True(t, eval(t, "#totalAmount > 100000 && #itemCount < 5", ctx))
	// Juxtaposition is conjunction.
	assert.True(t, eval(t, "#totalAmount > 100000 #itemCount < 5", ctx))
	assert.False(t, eval(t, "#totalAmount > 100000 AND #itemCount > 5", ctx))
}

func TestEval_Disjunction(t *testing.T) {
	ctx := Context{TotalAmount: 50, ItemCount: 10}

	assert.True(t, eval(t, "#totalAmount > 100000 OR #itemCount >= 10", ctx))
	assert.True(t, eval(t, "#totalAmount > 100000 || #itemCount >= 10", ctx))
	assert.False(t, eval(t, "#totalAmount > 100000 OR #itemCount > 10", ctx))
}

func TestEval_Parentheses(t *testing.T) {
	ctx := Context{TotalAmount: 50, ItemCount: 1, CategoryCodes: []string{"TRAVEL"}}

	assert.True(t, eval(t, "(#totalAmount > 100000 OR #itemCount == 1) AND #categoryCodes:TRAVEL", ctx))
	assert.False(t, eval(t, "#totalAmount > 100000 OR (#itemCount == 1 AND #categoryCodes:MEALS)", ctx))
}

func TestEval_SingleEqualsIsEquality(t *testing.T) {
	assert.True(t, eval(t, "#itemCount = 2", Context{ItemCount: 2}))
}

func TestEval_UnknownFieldErrors(t *testing.T) {
	cond, err := Compile("#missing > 10")
	require.NoError(t, err)

	_, err = cond.Eval(Context{})
	assert.Error(t, err)
}

func TestEval_OrderingOnTextErrors(t *testing.T) {
	cond, err := Compile("#costCenter > 10")
	require.NoError(t, err)

	_, err = cond.Eval(Context{Fields: map[string]string{"costCenter": "CC-42"}})
	assert.Error(t, err)
}

func TestCompile_Malformed(t *testing.T) {
	for _, expr := range []string{
		"#totalAmount >",
		"#totalAmount 100",
		"> 100",
		"(#totalAmount > 100",
		"#totalAmount > 100 extra",
		"#totalAmount ! 100",
	} {
		_, err := Compile(expr)
		assert.Errorf(t, err, "expected compile error for %q", expr)
	}
}

func TestCompile_ParseErrorReportsPosition(t *testing.T) {
	_, err := Compile("#totalAmount >")

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "#totalAmount >", parseErr.Condition)
}

func TestFields_ListsCustomFieldsOnly(t *testing.T) {
	cond, err := Compile(`#totalAmount > 100 AND #costCenter == "CC-1" AND #nights > 2`)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"costCenter", "nights"}, cond.Fields())
}

func TestValidate_RejectsOrderingOnTextFields(t *testing.T) {
	types := map[string]FieldType{
		"costCenter": FieldTypeText,
		"nights":     FieldTypeNumber,
		"attendees":  FieldTypeList,
	}

	ok, err := Compile(`#nights > 2 AND #attendees >= 3 AND #costCenter == "CC-1"`)
	require.NoError(t, err)
	assert.NoError(t, ok.Validate(types))

	bad, err := Compile("#costCenter > 10")
	require.NoError(t, err)
	assert.Error(t, bad.Validate(types))

	unknown, err := Compile("#ghost > 10")
	require.NoError(t, err)
	assert.Error(t, unknown.Validate(types))
}
