package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	s := New()
	cases := []struct {
		name, in, want string
	}{
		{"plain", "hello", "hello"},
		{"trims", "  hello  ", "hello"},
		{"script removed", "<script>alert(1)</script>hi", "hi"},
		{"inline kept", "<b>bold</b> and <em>em</em>", "<b>bold</b> and <em>em</em>"},
		{"attributes dropped", `<b onclick="x()">bold</b>`, "<b>bold</b>"},
		{"link unwrapped", `<a href="javascript:x()">click</a>`, "click"},
		{"img removed", `<img src=x onerror=alert(1)>`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.Sanitize(tc.in))
		})
	}
}
