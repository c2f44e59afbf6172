package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
	return p
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	good := writeScript(t, dir, "good.js", "var a = 1;\nlet b = a + 1;")
	bad := writeScript(t, dir, "bad.js", "var a = ;")

	assert.Equal(t, 0, run([]string{"check", "--no-color", good}))
	assert.Equal(t, 0, run([]string{"check", "--no-color", "--ast", good}))
	assert.Equal(t, 1, run([]string{"check", "--no-color", good, bad}))
	assert.Equal(t, 1, run([]string{"check"}))
}

func TestFmt(t *testing.T) {
	dir := t.TempDir()
	messy := writeScript(t, dir, "messy.js", "var a=1;if(a){a++}")
	bad := writeScript(t, dir, "bad.js", "var a = ;")

	assert.Equal(t, 0, run([]string{"fmt", "--no-color", "-l", messy}))
	assert.Equal(t, 0, run([]string{"fmt", "--no-color", "-w", messy}))
	got, err := os.ReadFile(messy)
	require.NoError(t, err)
	assert.Equal(t, "var a = 1;\nif (a) {\n    a++;\n}\n", string(got))

	assert.Equal(t, 1, run([]string{"fmt", "--no-color", bad}))
	assert.Equal(t, 1, run([]string{"fmt"}))
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "lib/math.js", "exports.double = x => x * 2;")
	main := writeScript(t, dir, "main.js", `var m = require("lib/math"); if (m.double(2) !== 4) throw "bad math";`)
	loop := writeScript(t, dir, "loop.js", "while (true) {}")
	missing := writeScript(t, dir, "missing.js", `require("nowhere");`)

	assert.Equal(t, 0, run([]string{"run", "--no-color", "--root", dir, main}))
	assert.Equal(t, 0, run([]string{"run", "--no-color", "--root", dir, "--jobs", "2", "--stats", "--metrics", main, main}))
	assert.Equal(t, 1, run([]string{"run", "--no-color", "--root", dir, main, missing}))
	assert.Equal(t, 1, run([]string{"run", "--no-color", "--max-steps", "1000", loop}))
	assert.Equal(t, 1, run([]string{"run", "--no-color", "--loader", "ftp", main}))
	assert.Equal(t, 0, run([]string{"version"}))
	assert.Equal(t, 2, run(nil))
}
