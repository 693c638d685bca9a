package main

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansiSeq = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func TestTableAlignsStyledCells(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable(&buf, "ID", "STATE", "DESCRIPTION")
	tbl.row("1", "\x1b[33mAVAILABLE\x1b[0m", "first")
	tbl.row("100", "ERROR", "second")
	require.NoError(t, tbl.flush())

	lines := strings.Split(strings.TrimRight(ansiSeq.ReplaceAllString(buf.String(), ""), "\n"), "\n")
	require.Len(t, lines, 3)

	col := strings.Index(lines[0], "DESCRIPTION")
	require.Positive(t, col)
	assert.Equal(t, col, strings.Index(lines[1], "first"))
	assert.Equal(t, col, strings.Index(lines[2], "second"))

	state := strings.Index(lines[0], "STATE")
	assert.Equal(t, state, strings.Index(lines[1], "AVAILABLE"))
	assert.Equal(t, state, strings.Index(lines[2], "ERROR"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))

	// Each rune is three bytes, so a byte cut at 4 lands mid-rune.
	out := truncate("日本語テキスト", 7)
	assert.Equal(t, "日...", out)
	assert.True(t, utf8.ValidString(out))
}
