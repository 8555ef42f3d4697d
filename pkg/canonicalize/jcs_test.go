package canonicalize

import (
	"encoding/json"
	"testing"
)

func TestJCS_Sorting(t *testing.T) {
	input := map[string]interface{}{
		"c": 3,
		"a": 1,
		"b": 2,
	}

	expected := `{"a":1,"b":2,"c":3}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_RecursiveSorting(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{
			"y": "foo",
			"x": map[string]interface{}{"q": 1, "p": 2},
		},
		"a": 1,
	}

	expected := `{"a":1,"z":{"x":{"p":2,"q":1},"y":"foo"}}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_ArrayOrderPreserved(t *testing.T) {
	input := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"b": 1, "a": 2},
			"z",
			"a",
		},
	}

	expected := `{"items":[{"a":2,"b":1},"z","a"]}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{
		"html": "<script>alert('xss')</script> &",
	}

	// encoding/json alone would emit <script>...
	expected := `{"html":"<script>alert('xss')</script> &"}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestTransform_ReorderedDocumentsMatch(t *testing.T) {
	a := []byte(`{"action_id":"approve","meta":{"run":7,"kind":"deploy"}}`)
	b := []byte(`{ "meta" : { "kind":"deploy", "run":7 }, "action_id":"approve" }`)

	ca, err := Transform(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := Transform(b)
	if err != nil {
		t.Fatal(err)
	}

	if string(ca) != string(cb) {
		t.Errorf("canonical forms differ: %s != %s", ca, cb)
	}
}

func TestTransform_RejectsInvalidJSON(t *testing.T) {
	if _, err := Transform([]byte(`{"a":`)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestJCS_NumberTypes(t *testing.T) {
	input := map[string]interface{}{
		"num": json.Number("123.456"),
		"int": 10,
	}
	expected := `{"int":10,"num":123.456}`

	b, err := JCS(input)
	if err != nil {
		t.Fatal(err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}
