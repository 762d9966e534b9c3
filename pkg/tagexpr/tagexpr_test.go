package tagexpr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ProfileExpressions(t *testing.T) {
	tests := []struct {
		input     string
		canonical string
		cucumber  string
	}{
		{"critical AND NOT long-running", "critical AND NOT long-running", "@critical and not @long-running"},
		{"NOT long-running", "NOT long-running", "not @long-running"},
		{"long-running", "long-running", "@long-running"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			e, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.canonical, e.String())
			assert.Equal(t, tt.cucumber, Render(e, SyntaxCucumber))
		})
	}
}

func TestParse_CucumberInput(t *testing.T) {
	e, err := Parse("(@smoke or @critical) and not @broken")
	require.NoError(t, err)
	assert.Equal(t, "(smoke OR critical) AND NOT broken", e.String())
	assert.Equal(t, "(@smoke or @critical) and not @broken", Render(e, SyntaxCucumber))
}

func TestParse_KeywordsAreCaseInsensitive(t *testing.T) {
	got, err := Normalize("a aNd not b Or c")
	require.NoError(t, err)
	assert.Equal(t, "a AND NOT b OR c", got)
}

func TestParse_PrefixedKeywordIsATag(t *testing.T) {
	e, err := Parse("@and")
	require.NoError(t, err)
	assert.Equal(t, Tag{Name: "and"}, e)
}

func TestString_RoundTrips(t *testing.T) {
	inputs := []string{
		"@not AND critical",
		"@AND OR @or",
		"NOT @Not",
		"(smoke OR @or) AND NOT ffi",
		"critical AND NOT long-running",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			e, err := Parse(input)
			require.NoError(t, err)

			again, err := Parse(e.String())
			require.NoError(t, err, "canonical form %q does not parse", e.String())
			assert.Equal(t, e, again)

			cuke, err := Parse(Render(e, SyntaxCucumber))
			require.NoError(t, err)
			assert.Equal(t, e, cuke)
		})
	}

	e := MustParse("@not AND critical")
	assert.Equal(t, "@not AND critical", e.String())
}

func TestParse_Precedence(t *testing.T) {
	e, err := Parse("a OR b AND c")
	require.NoError(t, err)

	assert.True(t, e.Evaluate([]string{"a"}))
	assert.True(t, e.Evaluate([]string{"b", "c"}))
	assert.False(t, e.Evaluate([]string{"b"}))
	assert.Equal(t, "a OR b AND c", e.String())
}

func TestParse_RedundantParensDropped(t *testing.T) {
	got, err := Normalize("((a)) AND (NOT (b))")
	require.NoError(t, err)
	assert.Equal(t, "a AND NOT b", got)

	got, err = Normalize("NOT (a AND b)")
	require.NoError(t, err)
	assert.Equal(t, "NOT (a AND b)", got)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		pos   int
	}{
		{"empty", "", 0},
		{"whitespace", "   ", 0},
		{"dangling and", "critical AND", 12},
		{"leading or", "OR critical", 0},
		{"unclosed paren", "(a AND b", 8},
		{"stray close paren", "a)", 1},
		{"invalid character", "a && b", 2},
		{"bare at", "@ smoke", 0},
		{"adjacent tags", "a b", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)

			var syn *SyntaxError
			require.True(t, errors.As(err, &syn))
			assert.Equal(t, tt.pos, syn.Pos)
			assert.Equal(t, tt.input, syn.Input)
			assert.Error(t, Validate(tt.input))
		})
	}
}

func TestEvaluate(t *testing.T) {
	e := MustParse("critical AND NOT long-running")

	assert.True(t, e.Evaluate([]string{"critical"}))
	assert.True(t, e.Evaluate([]string{"@critical", "@ffi"}))
	assert.False(t, e.Evaluate([]string{"critical", "long-running"}))
	assert.False(t, e.Evaluate(nil))
}

func TestAnd(t *testing.T) {
	profile := MustParse("smoke OR critical")
	suffix := MustParse("NOT ffi AND NOT broken")

	combined := And(profile, suffix)
	assert.Equal(t, "(smoke OR critical) AND NOT ffi AND NOT broken", combined.String())
	assert.Equal(t, "(@smoke or @critical) and not @ffi and not @broken", Render(combined, SyntaxCucumber))

	assert.Equal(t, suffix, And(nil, suffix))
	assert.Equal(t, profile, And(profile, nil))
	assert.Nil(t, And(nil, nil))
	assert.Equal(t, "", Render(nil, SyntaxCanonical))
}

func TestRequiredTags(t *testing.T) {
	assert.Equal(t, []string{"critical"}, RequiredTags(MustParse("critical AND NOT long-running")))
	assert.Equal(t, []string{"a", "d"}, RequiredTags(MustParse("d AND (b OR c) AND a")))
	assert.Empty(t, RequiredTags(MustParse("NOT long-running")))
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("AND") })
}
