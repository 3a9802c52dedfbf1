package executor

import (
	"reflect"
	"testing"
)

func TestSplitShellWords(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"simple", "-la", []string{"-la"}},
		{"multiple", "-la /tmp", []string{"-la", "/tmp"}},
		{"double quoted with space", `"hello world"`, []string{"hello world"}},
		{"single quoted with space", `'hello world'`, []string{"hello world"}},
		{"mixed", `--flag "a b" c`, []string{"--flag", "a b", "c"}},
		{"escaped space unquoted", `a\ b`, []string{"a b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitShellWords(tc.input)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("splitShellWords(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}
