// Package prologue builds the deterministic Python preamble prepended to jailed code.
//
// The output depends only on the seed. Anything host-specific (time, hostname,
// environment) would change the cache key of otherwise identical submissions.
package prologue

import (
	"strconv"
	"strings"
)

// LazyImport binds Name inside the sandbox to a proxy that imports Module on first use.
type LazyImport struct {
	Name   string
	Module string
}

// AssumedImports are the names problem code may use without importing them.
var AssumedImports = []LazyImport{
	{Name: "numpy", Module: "numpy"},
	{Name: "math", Module: "math"},
	{Name: "scipy", Module: "scipy"},
	{Name: "calc", Module: "calc"},
	{Name: "eia", Module: "eia"},
	{Name: "chemcalc", Module: "chem.chemcalc"},
	{Name: "chemtools", Module: "chem.chemtools"},
	{Name: "miller", Module: "chem.miller"},
	{Name: "draganddrop", Module: "verifiers.draganddrop"},
}

const preambleTemplate = `from __future__ import absolute_import, division

import os
os.environ["TMPDIR"] = os.getcwd() + "/tmp"
os.environ["TEMP"] = os.environ["TMPDIR"]
os.environ["TMP"] = os.environ["TMPDIR"]
os.environ["MPLCONFIGDIR"] = os.environ["TMPDIR"]
os.environ["OPENBLAS_NUM_THREADS"] = "1"

import random2 as random_module
import sys
random = random_module.Random(%SEED%)
random.Random = random_module.Random
random.SystemRandom = random_module.SystemRandom
sys.modules['random'] = random
`

const lazyImportClass = `
from importlib import import_module as _lazy_import_module
from types import ModuleType as _LazyModuleType


class LazyModule(_LazyModuleType):
    """A module proxy that imports the real module on first attribute access."""

    def __init__(self, name, modname):
        super(LazyModule, self).__init__(name)
        self.__dict__["_lazy_modname"] = modname
        self.__dict__["_lazy_module"] = None

    def _lazy_load(self):
        mod = self.__dict__["_lazy_module"]
        if mod is None:
            mod = _lazy_import_module(self.__dict__["_lazy_modname"])
            self.__dict__["_lazy_module"] = mod
        return mod

    def __getattr__(self, name):
        return getattr(self._lazy_load(), name)

`

// SeedRepr renders the seed the way it appears in the preamble and cache key.
func SeedRepr(seed *int64) string {
	if seed == nil {
		return "None"
	}
	return strconv.FormatInt(*seed, 10)
}

// Preamble returns the fixed environment and seeded-random setup.
func Preamble(seed *int64) string {
	return strings.Replace(preambleTemplate, "%SEED%", SeedRepr(seed), 1)
}

// LazyImports returns the block that binds AssumedImports to lazy proxies.
func LazyImports() string {
	var b strings.Builder
	b.WriteString(lazyImportClass)
	for _, imp := range AssumedImports {
		b.WriteString(imp.Name)
		b.WriteString(" = LazyModule(")
		b.WriteString(strconv.Quote(imp.Name))
		b.WriteString(", ")
		b.WriteString(strconv.Quote(imp.Module))
		b.WriteString(")\n")
	}
	b.WriteString("\n")
	return b.String()
}

// Build returns preamble + lazy imports + code.
func Build(seed *int64, code string) string {
	return Preamble(seed) + LazyImports() + code
}
