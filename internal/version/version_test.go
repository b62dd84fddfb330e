package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	v := Get()
	if v == "" {
		t.Fatal("version is empty")
	}
	if strings.TrimSpace(v) != v {
		t.Errorf("version %q has surrounding whitespace", v)
	}
	if !strings.HasPrefix(String(), "conductor version "+v) {
		t.Errorf("String() = %q", String())
	}
}
