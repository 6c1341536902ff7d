package ui

import (
	"io/fs"
	"testing"
)

func TestStaticContainsIndex(t *testing.T) {
	for _, name := range []string{"index.html", "style.css"} {
		if _, err := fs.Stat(Static(), name); err != nil {
			t.Errorf("stat %s: %v", name, err)
		}
	}
}
