package sqlguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"trailing semicolon", "SELECT 1;", "SELECT 1"},
		{"line comment", "SELECT 1 -- pick one", "SELECT 1"},
		{"block comment", "SELECT /* hidden */ 1", "SELECT  1"},
		{"double semicolon", "SELECT 1;; ", "SELECT 1"},
		{"whitespace", "  SELECT 1  ", "SELECT 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Sanitize(tc.in))
		})
	}
}

func TestEnforceRowLimit(t *testing.T) {
	cases := []struct {
		name    string
		sql     string
		maxRows int
		want    string
	}{
		{"appends missing limit", "SELECT * FROM t", 100, "SELECT * FROM t LIMIT 100"},
		{"clamps oversized limit", "SELECT * FROM t LIMIT 5000", 100, "SELECT * FROM t LIMIT 100"},
		{"keeps smaller limit", "SELECT * FROM t LIMIT 50", 100, "SELECT * FROM t LIMIT 50"},
		{"keeps equal limit", "SELECT * FROM t LIMIT 100", 100, "SELECT * FROM t LIMIT 100"},
		{"case insensitive", "SELECT * FROM t limit 9999", 10, "SELECT * FROM t LIMIT 10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EnforceRowLimit(tc.sql, tc.maxRows))
		})
	}
}
