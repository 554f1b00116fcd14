package marker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Exists(t *testing.T) {
	m, err := New("meebezig", DefaultSpacePrefix)
	require.NoError(t, err)

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"lowercase", "intro {{meebezig}} rest", true},
		{"capitalized", "{{Meebezig}}\nTekst", true},
		{"uppercase", "{{MEEBEZIG}}", true},
		{"spaced variant", "{{mee bezig}}", true},
		{"spaced capitalized", "{{Mee bezig}}", true},
		{"underscore variant", "{{Mee_bezig}}", true},
		{"inner whitespace", "{{ meebezig }}", true},
		{"arguments", "{{meebezig|Alice|2024}}", true},
		{"argument with whitespace", "{{meebezig |reden=herschrijven}}", true},
		{"nested argument", "{{meebezig|sinds {{datum}}}}", true},
		{"namespace prefix", "{{Sjabloon:Meebezig}}", true},
		{"english namespace prefix", "{{template:meebezig}}", true},
		{"partial word", "{{meebezigheid}}", false},
		{"prefix word", "{{nietmeebezig}}", false},
		{"two spaces", "{{mee  bezig}}", false},
		{"wrong split", "{{meeb ezig}}", false},
		{"single braces", "{meebezig}", false},
		{"plain text", "meebezig", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Exists(tt.text))
		})
	}
}

func TestMatcher_Strip(t *testing.T) {
	m := MustNew("meebezig", DefaultSpacePrefix)

	assert.Equal(t, "Tekst", m.Strip("{{meebezig}}\nTekst"))
	assert.Equal(t, "a  b", m.Strip("a {{Mee bezig|x}} b"))
	assert.Equal(t, "geen sjabloon", m.Strip("geen sjabloon"))
}

func TestNew_Invalid(t *testing.T) {
	_, err := New("", DefaultSpacePrefix)
	assert.Error(t, err)

	_, err = New("a|b", DefaultSpacePrefix)
	assert.Error(t, err)
}

func TestNew_NoSpacedVariant(t *testing.T) {
	m, err := New("meebezig", 0)
	require.NoError(t, err)

	assert.True(t, m.Exists("{{meebezig}}"))
	assert.False(t, m.Exists("{{mee bezig}}"))
}

func TestNew_RegexMetacharacters(t *testing.T) {
	m, err := New("in.bewerking", 0)
	require.NoError(t, err)

	assert.True(t, m.Exists("{{In.bewerking}}"))
	assert.False(t, m.Exists("{{inXbewerking}}"))
}

func TestExists(t *testing.T) {
	assert.True(t, Exists("{{Meebezig}}", "meebezig"))
	assert.False(t, Exists("{{meebezig}}", ""))
}

func TestMatcher_Token(t *testing.T) {
	m := MustNew("meebezig", DefaultSpacePrefix)
	assert.Equal(t, "meebezig", m.Name())
	assert.Equal(t, "{{meebezig}}", m.Token())
}
