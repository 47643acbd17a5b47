package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtrl(t *testing.T) {
	assert.Equal(t, CtrlC, Ctrl('c'))
	assert.Equal(t, CtrlC, Ctrl('C'))
	assert.Equal(t, CtrlA, Ctrl('a'))
	assert.Equal(t, CtrlZ, Ctrl('z'))
	assert.Equal(t, Escape, Ctrl('['))
	assert.Equal(t, Null, Ctrl('@'))
	assert.Equal(t, Null, Ctrl(' '))
	assert.Equal(t, Backspace, Ctrl('?'))
	assert.Panics(t, func() { Ctrl('1') })
}

func TestWith(t *testing.T) {
	assert.Equal(t, Up, With(Up, 0))
	assert.Equal(t, "\x1b[1;2A", With(Up, ModShift))
	assert.Equal(t, "\x1b[1;3D", With(Left, ModAlt))
	assert.Equal(t, "\x1b[1;5C", With(Right, ModCtrl))
	assert.Equal(t, "\x1b[1;8B", With(Down, ModShift|ModAlt|ModCtrl))
	assert.Equal(t, "\x1b[1;5H", With(Home, ModCtrl))
	assert.Equal(t, "\x1b[3;5~", With(Delete, ModCtrl))
	assert.Equal(t, "\x1b[15;2~", With(F5, ModShift))
	assert.Equal(t, "\x1b[1;5P", With(F1, ModCtrl))
	assert.Equal(t, "\x1b\r", With(Enter, ModAlt))
	assert.Equal(t, Enter, With(Enter, ModCtrl))
}

func TestF(t *testing.T) {
	assert.Equal(t, F1, F(1))
	assert.Equal(t, F12, F(12))
	assert.Empty(t, F(0))
	assert.Empty(t, F(13))
}

func TestLookup(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"enter", "\r"},
		{"Enter", "\r"},
		{"esc", "\x1b"},
		{"tab", "\t"},
		{"backspace", "\x7f"},
		{"space", " "},
		{"x", "x"},
		{"c-c", "\x03"},
		{"C-c", "\x03"},
		{"ctrl+c", "\x03"},
		{"ctrl+C", "\x03"},
		{"ctrl+b", TmuxPrefix},
		{"ctrl+[", "\x1b"},
		{"alt+f", "\x1bf"},
		{"M-b", "\x1bb"},
		{"ctrl+alt+x", "\x1b\x18"},
		{"shift+a", "A"},
		{"up", "\x1b[A"},
		{"shift+up", "\x1b[1;2A"},
		{"ctrl+alt+left", "\x1b[1;7D"},
		{"pgdn", "\x1b[6~"},
		{"f1", "\x1bOP"},
		{"F10", "\x1b[21~"},
		{"shift+f5", "\x1b[15;2~"},
		{"alt+enter", "\x1b\r"},
		{"ctrl+_", "\x1f"},
		{"-", "-"},
		{"+", "+"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := Lookup(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupErrors(t *testing.T) {
	for _, desc := range []string{"", "  ", "nosuchkey", "hyper+x", "ctrl+1", "f13", "shift+1"} {
		_, err := Lookup(desc)
		assert.Error(t, err, desc)
	}
}
