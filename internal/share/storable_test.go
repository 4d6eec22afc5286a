package share

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsStorable(t *testing.T) {
	tests := []struct {
		name string
		node FileNode
		want bool
	}{
		{"video", FileNode{Name: "movie.MKV", Size: 10}, true},
		{"transport stream", FileNode{Name: "ep.ts"}, true},
		{"large non-video", FileNode{Name: "disc.iso", Size: LargeFileBytes}, true},
		{"small non-video", FileNode{Name: "readme.txt", Size: 100}, false},
		{"directory", FileNode{Name: "Season.mkv", IsDirectory: true, Size: LargeFileBytes * 2}, false},
		{"unnamed", FileNode{Size: LargeFileBytes}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStorable(tt.node, LargeFileBytes))
		})
	}

	assert.False(t, IsStorable(FileNode{Name: "disc.iso", Size: LargeFileBytes}, 0), "zero threshold disables size rule")
}

func TestTitle(t *testing.T) {
	single := []FileNode{
		{LogicalPath: "/Movie"},
		{LogicalPath: "/Movie/movie.mkv"},
	}
	assert.Equal(t, "Movie", Title(single, "https://pan.quark.cn/s/abc123"))

	mixed := []FileNode{
		{LogicalPath: "/a.mkv"},
		{LogicalPath: "/b.mkv"},
	}
	assert.Equal(t, "abc123", Title(mixed, "https://pan.quark.cn/s/abc123?pwd=x"))
	assert.Equal(t, "share", Title(mixed, "https://pan.quark.cn/nothing"))
	assert.Equal(t, "share", Title(nil, ""))
}

func TestVirtualPath(t *testing.T) {
	assert.Equal(t, "/Movies/Movie/movie.mkv", VirtualPath(DefaultVirtualRoot, "Movie", "movie.mkv"))
	assert.Equal(t, "/Movies/a_b/c_d.mkv", VirtualPath("/Movies/", "a/b", `c\d.mkv`))
	assert.Equal(t, "/Movies/share/file", VirtualPath("/Movies", " / ", ""))
}

func TestApplyPasscode(t *testing.T) {
	assert.Equal(t, "https://pan.quark.cn/s/abc", ApplyPasscode("https://pan.quark.cn/s/abc", ""))
	assert.Equal(t, "https://pan.quark.cn/s/abc?pwd=9f2a", ApplyPasscode("abc", "9f2a"))
	assert.Equal(t, "https://pan.quark.cn/s/abc?pwd=new", ApplyPasscode("https://pan.quark.cn/s/abc?pwd=old", "new"))
	assert.Equal(t, "https://pan.quark.cn/s/abc?a=1&pwd=x", ApplyPasscode("https://pan.quark.cn/s/abc?a=1", "x"))
}
