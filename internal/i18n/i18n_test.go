package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		accept   string
		expected language.Tag
	}{
		{"en-US,en;q=0.9", language.English},
		{"de-DE,de;q=0.9", language.German},
		{"fr-FR", language.English},
		{"", language.English},
	}

	for _, tt := range tests {
		got := MatchLanguage(tt.accept)
		base, _ := got.Base()
		exp, _ := tt.expected.Base()
		assert.Equal(t, exp, base, "Accept: %s", tt.accept)
	}
}

func TestLocaleTag(t *testing.T) {
	base := func(tag language.Tag) language.Base {
		b, _ := tag.Base()
		return b
	}
	deBase, _ := language.German.Base()
	enBase, _ := language.English.Base()

	assert.Equal(t, deBase, base(LocaleTag("de_DE.UTF-8")))
	assert.Equal(t, deBase, base(LocaleTag("", "de_AT")))
	assert.Equal(t, enBase, base(LocaleTag("C", "")))
	assert.Equal(t, enBase, base(LocaleTag()))
}

func TestCatalog(t *testing.T) {
	de := NewPrinter(language.German)
	assert.Equal(t, "Checkpoint abc bestätigt\n", de.Sprintf(MsgCommitted, "abc"))

	en := NewPrinter(language.English)
	assert.Equal(t, "Checkpoint abc committed\n", en.Sprintf(MsgCommitted, "abc"))
}
