package record

import (
	"encoding/json"
	"testing"
)

func TestParse_PreservesKeyOrder(t *testing.T) {
	r := MustParse(`{"zeta":1,"alpha":"a","mid":{"y":true,"x":null},"list":[1,"two"]}`)

	want := []string{"zeta", "alpha", "mid", "list"}
	got := r.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	nested := r.Value("mid").Record()
	if nested == nil {
		t.Fatal("mid should be an object")
	}
	if keys := nested.Keys(); keys[0] != "y" || keys[1] != "x" {
		t.Errorf("nested keys = %v, want [y x]", keys)
	}

	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	const wantJSON = `{"zeta":1,"alpha":"a","mid":{"y":true,"x":null},"list":[1,"two"]}`
	if string(out) != wantJSON {
		t.Errorf("Marshal = %s, want %s", out, wantJSON)
	}
}

func TestRecord_SetKeepsPosition(t *testing.T) {
	r := New()
	r.Set("a", String("1")).Set("b", String("2")).Set("a", String("3"))

	if got := r.Keys(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Keys() = %v, want [a b]", got)
	}
	if s, _ := r.Value("a").Str(); s != "3" {
		t.Errorf("a = %q, want 3", s)
	}
}

func TestRecord_DeleteAndClone(t *testing.T) {
	r := MustParse(`{"a":1,"b":2,"c":3}`)
	c := r.Clone()
	c.Delete("b")

	if r.Len() != 3 {
		t.Errorf("original mutated, Len() = %d", r.Len())
	}
	if got := c.Keys(); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("clone Keys() = %v, want [a c]", got)
	}
	c.Delete("missing")
	if c.Len() != 2 {
		t.Errorf("Delete of missing key changed Len() to %d", c.Len())
	}
}

func TestValue_Text(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"null", Null(), ""},
		{"string", String("btc"), "btc"},
		{"number literal", Number("1.50"), "1.50"},
		{"bool", Bool(false), "false"},
		{"list", List(String("a"), Int(2)), `["a",2]`},
		{"object", Object(MustParse(`{"k":"v"}`)), `{"k":"v"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecord_Equal(t *testing.T) {
	a := MustParse(`{"asset":"btc","metric":null}`)
	b := MustParse(`{"asset":"btc","metric":null}`)
	c := MustParse(`{"metric":null,"asset":"btc"}`)

	if !a.Equal(b) {
		t.Error("identical records should be equal")
	}
	if a.Equal(c) {
		t.Error("records with different key order should not be equal")
	}
}

func TestParseList(t *testing.T) {
	recs, err := ParseList([]byte(`[{"asset":"btc"},{"asset":"eth"}]`))
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if s, _ := recs[1].Value("asset").Str(); s != "eth" {
		t.Errorf("recs[1].asset = %q, want eth", s)
	}

	if _, err := ParseList([]byte(`[1]`)); err == nil {
		t.Error("expected error for non-object element")
	}
	if _, err := Parse([]byte(`[1]`)); err == nil {
		t.Error("expected error parsing array as record")
	}
}
