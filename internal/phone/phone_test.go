package phone

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "mobile with mask", raw: "(11) 99999-9999", want: "5511999999999"},
		{name: "national 11 digits", raw: "11988888888", want: "5511988888888"},
		{name: "landline padded with nine", raw: "1133334444", want: "5511933334444"},
		{name: "already international", raw: "+55 11 99999-9999", want: "5511999999999"},
		{name: "international 12 digits padded", raw: "551188887777", want: "5511988887777"},
		{name: "international 12 digits already nine", raw: "551198887777", want: "551198887777"},
		{name: "short number untouched", raw: "99999", want: "99999"},
		{name: "no digits", raw: "n/a", want: ""},
		{name: "empty", raw: "", want: ""},
		{name: "float export", raw: "11988888888.0", want: "55119888888880"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalizePrependsCountryCode(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"1187654321", "21987654321", "4733221100", "849123456789"} {
		got := Normalize(d)
		assert.True(t, strings.HasPrefix(got, CountryCode), "Normalize(%q) = %q", d, got)
		if len(CountryCode+d) == 12 && d[2] != '9' {
			assert.Equal(t, CountryCode+d[:2]+"9"+d[2:], got)
		} else {
			assert.Equal(t, CountryCode+d, got)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"(11) 3333-4444", "11999999999", "5521987654321", "+55 (48) 9 9123-4567"} {
		once := Normalize(raw)
		assert.Len(t, once, 13)
		assert.Equal(t, once, Normalize(once), "re-normalizing %q", raw)
	}
}

func TestIsPlaceholder(t *testing.T) {
	t.Parallel()
	assert.True(t, IsPlaceholder(""))
	assert.True(t, IsPlaceholder("   "))
	assert.True(t, IsPlaceholder("nan"))
	assert.False(t, IsPlaceholder("11999999999"))
	assert.False(t, IsPlaceholder("NaN-ish 11"))
}
