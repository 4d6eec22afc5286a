package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", formatSize(0))
	assert.Equal(t, "1023 B", formatSize(1023))
	assert.Equal(t, "1.5 KB", formatSize(1536))
	assert.Equal(t, "2.0 GB", formatSize(2147483648))
	assert.Equal(t, "1.0 TB", formatSize(sizeTB))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}))

	ts := time.Date(2024, 3, 9, 8, 7, 6, 0, time.Local)
	assert.Equal(t, "2024-03-09 08:07:06", formatTime(ts))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"ID", "PATH"}, [][]string{
		{"1", "/Movies/a.mkv"},
		{"100", "/b"},
	})

	assert.Equal(t, "ID   PATH\n1    /Movies/a.mkv\n100  /b\n", buf.String())
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "x", orDash("x"))
}
