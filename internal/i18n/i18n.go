// Package i18n provides the localized printer used for CLI output.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we support
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// Message keys shared by the CLI.
const (
	MsgNoChanges       = "No changes: desired state already matches the system\n"
	MsgApplied         = "Desired state applied successfully\n"
	MsgCheckpointOpen  = "Checkpoint %s is pending; run 'hostnet commit' within %s or it will roll back\n"
	MsgCommitted       = "Checkpoint %s committed\n"
	MsgRolledBack      = "Checkpoint %s rolled back\n"
	MsgVerifyFailed    = "Verification failed, system restored:\n"
	MsgGlobalDNSActive = "Per-interface DNS unavailable; using global DNS configuration\n"
)

func init() {
	de := language.German
	_ = message.SetString(de, MsgNoChanges, "Keine Änderungen: der Sollzustand entspricht bereits dem System\n")
	_ = message.SetString(de, MsgApplied, "Sollzustand erfolgreich angewendet\n")
	_ = message.SetString(de, MsgCheckpointOpen, "Checkpoint %s ist offen; 'hostnet commit' innerhalb von %s ausführen, sonst wird er zurückgesetzt\n")
	_ = message.SetString(de, MsgCommitted, "Checkpoint %s bestätigt\n")
	_ = message.SetString(de, MsgRolledBack, "Checkpoint %s zurückgesetzt\n")
	_ = message.SetString(de, MsgVerifyFailed, "Überprüfung fehlgeschlagen, System wiederhergestellt:\n")
	_ = message.SetString(de, MsgGlobalDNSActive, "DNS pro Schnittstelle nicht möglich; globale DNS-Konfiguration wird verwendet\n")
}

// MatchLanguage returns the best matching language for a locale or
// Accept-Language style string.
func MatchLanguage(lang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(lang)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// NewCLIPrinter returns a printer for the system's locale (from env vars)
func NewCLIPrinter() *message.Printer {
	return NewPrinter(LocaleTag(os.Getenv("LC_ALL"), os.Getenv("LANG")))
}

// LocaleTag resolves POSIX locale values such as "de_DE.UTF-8" to a
// supported language, trying each candidate in order.
func LocaleTag(candidates ...string) language.Tag {
	for _, lang := range candidates {
		if lang == "" || lang == "C" || lang == "POSIX" {
			continue
		}
		if i := strings.Index(lang, "."); i != -1 {
			lang = lang[:i]
		}
		lang = strings.ReplaceAll(lang, "_", "-")

		tag, err := language.Parse(lang)
		if err != nil {
			return MatchLanguage(lang)
		}
		matched, _, _ := matcher.Match(tag)
		return matched
	}
	return DefaultLang
}
