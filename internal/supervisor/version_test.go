package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0.0", 0},
		{"1.2.0", "1.10.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0.1", "1.0", 1},
		{"0.9", "1.0", -1},
		{"v1.2.3", "1.2.3", 0},
		{"1.2.3", "1.2.3", 0},
		{"10", "9.9.9", 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CompareVersions(c.a, c.b), "%s vs %s", c.a, c.b)
	}
}
