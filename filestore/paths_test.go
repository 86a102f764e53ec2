package filestore

import (
	"testing"

	"github.com/mir-akbar/codecollab/sessions"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"main.py", "main.py", true},
		{"/src/main.py", "src/main.py", true},
		{"src\\lib\\util.js", "src/lib/util.js", true},
		{"../etc/passwd", "", false},
		{"src/../main.py", "", false},
		{"src//main.py", "", false},
		{"./main.py", "", false},
		{"", "", false},
		{"/", "", false},
	}
	for _, c := range cases {
		got, err := NormalizePath(c.in)
		if c.ok {
			if err != nil {
				t.Errorf("NormalizePath(%q) failed: %v", c.in, err)
				continue
			}
			if got != c.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", c.in, got, c.want)
			}
		} else {
			if err == nil {
				t.Errorf("NormalizePath(%q) should fail, got %q", c.in, got)
			} else if sessions.KindOf(err) != sessions.KindValidation {
				t.Errorf("NormalizePath(%q) error kind = %s", c.in, sessions.KindOf(err))
			}
		}
	}
}

func TestIgnored(t *testing.T) {
	ignored := []string{
		"__MACOSX/src/main.py",
		"src/.DS_Store",
		"Thumbs.db",
		"src/._main.py",
		"._resource",
	}
	for _, p := range ignored {
		if !Ignored(p) {
			t.Errorf("Ignored(%q) should be true", p)
		}
	}
	kept := []string{"main.py", "src/macosx.py", "src/_private.py", "dstore/x.js"}
	for _, p := range kept {
		if Ignored(p) {
			t.Errorf("Ignored(%q) should be false", p)
		}
	}
}

func TestExtensionAndParentFolder(t *testing.T) {
	if Extension("src/Main.JAVA") != ".java" {
		t.Errorf("extension should be lower-cased, got %q", Extension("src/Main.JAVA"))
	}
	if Extension("Makefile") != "" {
		t.Errorf("no extension expected, got %q", Extension("Makefile"))
	}

	if ParentFolder("main.py") != nil {
		t.Error("root files have no parent folder")
	}
	p := ParentFolder("src/lib/util.js")
	if p == nil || *p != "src/lib" {
		t.Errorf("expected parent 'src/lib', got %v", p)
	}
}
