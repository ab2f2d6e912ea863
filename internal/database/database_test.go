package database

import (
	"strings"
	"testing"
)

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN("bot:secret@tcp(db:3306)/ppbot")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	for _, want := range []string{"parseTime=true", "clientFoundRows=true", "bot:secret@tcp(db:3306)/ppbot"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
}

func TestNormalizeDSNInvalid(t *testing.T) {
	if _, err := normalizeDSN("bot:secret@tcp(db:3306"); err == nil {
		t.Fatal("expected parse error")
	}
}
