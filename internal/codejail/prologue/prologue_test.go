package prologue_test

import (
	"strings"
	"testing"

	"capajail/internal/codejail/prologue"
)

func int64p(v int64) *int64 { return &v }

func TestBuildIsStableForSeed(t *testing.T) {
	a := prologue.Build(int64p(17), "x = 1")
	b := prologue.Build(int64p(17), "x = 1")
	if a != b {
		t.Fatalf("prologue differs between calls with the same seed")
	}
	if a == prologue.Build(int64p(18), "x = 1") {
		t.Fatalf("prologue ignores the seed")
	}
	if !strings.HasSuffix(a, "x = 1") {
		t.Fatalf("caller code must come last")
	}
}

func TestPreambleOrder(t *testing.T) {
	p := prologue.Preamble(int64p(17))
	steps := []string{
		"from __future__ import absolute_import, division",
		`os.environ["TMPDIR"] = os.getcwd() + "/tmp"`,
		`os.environ["MPLCONFIGDIR"]`,
		`os.environ["OPENBLAS_NUM_THREADS"] = "1"`,
		"random = random_module.Random(17)",
		"random.SystemRandom = random_module.SystemRandom",
		"sys.modules['random'] = random",
	}
	last := -1
	for _, step := range steps {
		idx := strings.Index(p, step)
		if idx < 0 {
			t.Fatalf("preamble is missing %q", step)
		}
		if idx < last {
			t.Fatalf("preamble step %q is out of order", step)
		}
		last = idx
	}
}

func TestNilSeed(t *testing.T) {
	if got := prologue.SeedRepr(nil); got != "None" {
		t.Fatalf("SeedRepr(nil) = %q", got)
	}
	if !strings.Contains(prologue.Preamble(nil), "random_module.Random(None)") {
		t.Fatalf("nil seed should construct an unseeded generator")
	}
	if got := prologue.SeedRepr(int64p(-5)); got != "-5" {
		t.Fatalf("SeedRepr(-5) = %q", got)
	}
}

func TestLazyImportsBindsAllowList(t *testing.T) {
	block := prologue.LazyImports()
	for _, imp := range prologue.AssumedImports {
		line := imp.Name + ` = LazyModule("` + imp.Name + `", "` + imp.Module + `")`
		if !strings.Contains(block, line) {
			t.Fatalf("lazy import block is missing %q", line)
		}
	}
}
