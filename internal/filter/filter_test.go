package filter

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, expr string) *Filter {
	t.Helper()
	f, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", expr, err)
	}
	return f
}

func TestParseEmpty(t *testing.T) {
	f := mustParse(t, "   ")
	clause, args := f.SQL()
	if clause != "1" || len(args) != 0 {
		t.Errorf("empty filter: got %q with %d args", clause, len(args))
	}
}

func TestNumericComparison(t *testing.T) {
	f := mustParse(t, "total_distance >= 10")
	clause, args := f.SQL()

	if !strings.Contains(clause, ">= ?") {
		t.Errorf("missing operator in %q", clause)
	}
	if !strings.Contains(clause, "'integer', 'real'") {
		t.Errorf("numeric comparison lacks type guard: %q", clause)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %v", args)
	}
	if args[0] != `$."total_distance"` {
		t.Errorf("key path = %v", args[0])
	}
	if args[2] != 10.0 {
		t.Errorf("value = %v, want 10", args[2])
	}
}

func TestStringComparison(t *testing.T) {
	f := mustParse(t, `activity_type = "Run"`)
	clause, args := f.SQL()

	if !strings.Contains(clause, "= 'text'") {
		t.Errorf("string comparison lacks type guard: %q", clause)
	}
	if len(args) != 3 || args[2] != "Run" {
		t.Errorf("args = %v", args)
	}
}

func TestBarewordValue(t *testing.T) {
	f := mustParse(t, "activity_type = Run")
	_, args := f.SQL()
	if len(args) != 3 || args[2] != "Run" {
		t.Errorf("bareword value: args = %v", args)
	}
}

func TestBooleanComparison(t *testing.T) {
	clause, args := mustParse(t, "commute = true").SQL()
	if !strings.Contains(clause, "json_type") || !strings.Contains(clause, "IS 'true'") {
		t.Errorf("bool = true compiled to %q", clause)
	}
	if len(args) != 1 {
		t.Errorf("args = %v", args)
	}

	clause, _ = mustParse(t, "commute != true").SQL()
	if !strings.Contains(clause, "IS 'false'") {
		t.Errorf("bool != true compiled to %q", clause)
	}
}

func TestIn(t *testing.T) {
	f := mustParse(t, `activity_type in ["Run", "Ride"]`)
	clause, args := f.SQL()

	if !strings.Contains(clause, "IN (?, ?)") {
		t.Errorf("in compiled to %q", clause)
	}
	if len(args) != 4 || args[2] != "Run" || args[3] != "Ride" {
		t.Errorf("args = %v", args)
	}
}

func TestLike(t *testing.T) {
	f := mustParse(t, `title like "%morning%"`)
	clause, args := f.SQL()

	if !strings.Contains(clause, "LIKE ?") {
		t.Errorf("like compiled to %q", clause)
	}
	if args[len(args)-1] != "%morning%" {
		t.Errorf("args = %v", args)
	}
}

func TestHas(t *testing.T) {
	clause, args := mustParse(t, "has? elevation_gain").SQL()
	if !strings.Contains(clause, "IS NOT NULL") {
		t.Errorf("has? compiled to %q", clause)
	}
	if len(args) != 1 || args[0] != `$."elevation_gain"` {
		t.Errorf("args = %v", args)
	}
}

func TestQuotedKey(t *testing.T) {
	clause, args := mustParse(t, `"strange key" = 1`).SQL()
	if len(args) != 3 || args[0] != `$."strange key"` {
		t.Errorf("quoted key: clause %q args %v", clause, args)
	}
}

func TestPrecedence(t *testing.T) {
	// a || b && c parses as a || (b && c).
	clause, _ := mustParse(t, "a = 1 || b = 2 && c = 3").SQL()

	orIdx := strings.Index(clause, " OR ")
	andIdx := strings.Index(clause, " AND (typeof")
	if orIdx < 0 || andIdx < 0 || andIdx < orIdx {
		t.Errorf("precedence wrong in %q", clause)
	}
}

func TestNot(t *testing.T) {
	clause, _ := mustParse(t, `!(activity_type = "Run")`).SQL()
	if !strings.HasPrefix(clause, "(NOT ") {
		t.Errorf("not compiled to %q", clause)
	}
}

func TestGrouping(t *testing.T) {
	f := mustParse(t, "(a = 1 || b = 2) && c = 3")
	clause, args := f.SQL()
	if !strings.Contains(clause, "OR") || !strings.Contains(clause, "AND") {
		t.Errorf("grouped expression compiled to %q", clause)
	}
	// Three comparisons, each binding key twice plus a value.
	if len(args) != 9 {
		t.Errorf("expected 9 args, got %d", len(args))
	}
}

func TestStringEscapes(t *testing.T) {
	f := mustParse(t, `title = "say \"hi\" \\ bye"`)
	_, args := f.SQL()
	if args[2] != `say "hi" \ bye` {
		t.Errorf("escaped string = %q", args[2])
	}
}

func TestNegativeNumbers(t *testing.T) {
	_, args := mustParse(t, "min_elevation < -10.5").SQL()
	if args[2] != -10.5 {
		t.Errorf("negative number = %v", args[2])
	}
}

func TestBooleanRequiresEquality(t *testing.T) {
	if _, err := Parse("commute > true"); err == nil {
		t.Error("ordering comparison on bool should fail")
	}
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{
		"a =",
		"a = 1 ||",
		"(a = 1",
		"a in []",
		"a in [1",
		`a like 5`,
		"has?",
		"a = 1 b = 2",
		`a = "unterminated`,
		"| a = 1",
		"& a = 1",
		"a ~ 1",
	} {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q) should fail", expr)
		}
	}
}
