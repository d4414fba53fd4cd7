package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"  hello  ":                   "hello",
		"line one\nline two\tend":     "line one\nline two\tend",
		"bell\a and null\x00":         "bell and null",
		`<script>alert("x")</script>`: "&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt;",
		"Tom & Jerry's":               "Tom &amp; Jerry&#39;s",
		"\x01\x02":                    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "input %q", in)
	}
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, validatePassword("Abcdefg1"))
	for pw, reason := range map[string]string{
		"Ab1":      "Password must be at least 8 characters long",
		"abcdefg1": "Password must contain at least one uppercase letter",
		"ABCDEFG1": "Password must contain at least one lowercase letter",
		"Abcdefgh": "Password must contain at least one number",
	} {
		err := validatePassword(pw)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, pw)
		assert.Equal(t, reason, verr.Reason)
	}
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, validateEmail("jane.doe+tag@clinic.example.org"))
	assert.Error(t, validateEmail("jane@localhost"))
	assert.Error(t, validateEmail("@example.com"))
	assert.Equal(t, "jane@example.com", normalizeEmail("  Jane@Example.COM "))
}

type item struct {
	N int `json:"n"`
}

func TestDecodeItemsShapes(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want []item
	}{
		"missing":     {"", []item{}},
		"null":        {"null", []item{}},
		"list":        {`[{"n":1},{"n":2}]`, []item{{1}, {2}}},
		"list holes":  {`[{"n":1},null,"x",{"n":3}]`, []item{{1}, {3}}},
		"numeric map": {`{"10":{"n":10},"9":{"n":9},"1":{"n":1}}`, []item{{1}, {9}, {10}}},
		"mixed map":   {`{"b":{"n":4},"2":{"n":2},"a":{"n":3},"-1":{"n":0}}`, []item{{0}, {2}, {3}, {4}}},
		"bad item":    {`[{"n":"one"},{"n":2}]`, []item{{2}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := decodeItems[item](json.RawMessage(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := decodeItems[item](json.RawMessage(`"scalar"`))
	assert.Error(t, err)
}
