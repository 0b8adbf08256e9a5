package depcache

import (
	"errors"
	"strings"
	"testing"
)

type namedDef struct {
	name    string
	version int
}

func (d *namedDef) String() string { return d.name }
func (d *namedDef) Version() int   { return d.version }

type plainDef struct {
	Size int
}

func Test_IdentityOf_Derives_Storage_Key(t *testing.T) {
	t.Parallel()

	v0, err := identityOf(&namedDef{name: "report"})
	if err != nil {
		t.Fatal(err)
	}

	if v0.name != "report" {
		t.Fatalf("name = %q, want String() output", v0.name)
	}

	if !strings.HasPrefix(v0.id, "namedDef/") {
		t.Fatalf("id = %q, want type name prefix", v0.id)
	}

	same, _ := identityOf(&namedDef{name: "report"})
	if same.id != v0.id {
		t.Fatalf("equal definitions got different ids: %q vs %q", v0.id, same.id)
	}

	v1, _ := identityOf(&namedDef{name: "report", version: 1})
	if v1.id == v0.id {
		t.Fatal("version change must select a different id")
	}

	plain, err := identityOf(plainDef{Size: 3})
	if err != nil {
		t.Fatal(err)
	}

	if plain.name != "plainDef{Size:3}" {
		t.Fatalf("name = %q, want formatted value", plain.name)
	}
}

func Test_IdentityOf_Rejects_Uncomparable_Definitions(t *testing.T) {
	t.Parallel()

	_, err := identityOf(struct{ parts []string }{})
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("err = %v, want ErrInvalidDefinition", err)
	}

	_, err = identityOf(nil)
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("err = %v, want ErrInvalidDefinition", err)
	}

	_, err = identityOf((*namedDef)(nil))
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("err = %v, want ErrInvalidDefinition for typed nil pointer", err)
	}
}

func Test_Sanitize_Replaces_Path_Unsafe_Characters(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":             "anonymous",
		"plain":        "plain",
		"Gen[int]":     "Gen_int_",
		"a/b c":        "a_b_c",
		"v1.2-beta_rc": "v1.2-beta_rc",
	}

	for in, want := range tests {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
