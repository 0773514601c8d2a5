package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseSeed(t *testing.T) {
	if s, err := parseSeed(""); err != nil || s != nil {
		t.Fatalf("empty seed = %v, %v", s, err)
	}
	if s, err := parseSeed("17"); err != nil || s == nil || *s != 17 {
		t.Fatalf("seed 17 = %v, %v", s, err)
	}
	if _, err := parseSeed("abc"); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("splitList = %q", got)
	}
	if splitList("") != nil {
		t.Fatalf("empty input should give nil")
	}
}

func TestReadInputs(t *testing.T) {
	dir := t.TempDir()
	globalsPath := filepath.Join(dir, "g.json")
	if err := os.WriteFile(globalsPath, []byte(`{"a": 1, "b": [0.5]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	globals, err := readGlobals(globalsPath)
	if err != nil || globals["a"] != int64(1) {
		t.Fatalf("readGlobals = %#v, %v", globals, err)
	}
	if _, err := readGlobals(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("missing globals file should fail")
	}

	extraPath := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(extraPath, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	files, err := readExtraFiles(extraPath)
	if err != nil || len(files) != 1 || files[0].Name != "data.txt" || string(files[0].Content) != "hi" {
		t.Fatalf("readExtraFiles = %+v, %v", files, err)
	}

	src, err := readSource("-", bytes.NewBufferString("x = 1"))
	if err != nil || src != "x = 1" {
		t.Fatalf("readSource stdin = %q, %v", src, err)
	}
}

func TestRunRequiresFile(t *testing.T) {
	var out bytes.Buffer
	code, err := run(context.Background(), options{}, bytes.NewBuffer(nil), &out)
	if err == nil || code != 2 {
		t.Fatalf("run without -file = %d, %v", code, err)
	}
}
