package pairing

import "fmt"

// Spell wraps code so the voice platform reads it letter by letter.
func Spell(code string) string {
	return fmt.Sprintf(`<prosody rate="slow"><say-as interpret-as="spell-out">%s</say-as></prosody>`, code)
}

// CodePrompt is spoken to an account that has no family bound yet. The
// code is read out twice.
func CodePrompt(code string) string {
	return "Hello, this device isn't recognised. I will help you register. " +
		`Your code is <break time="1s"/>` + Spell(code) +
		` That is <break time="1s"/>` + Spell(code) +
		" Enter this on the Family Connect app."
}

// CodeReminder answers a bound account asking for its code again.
func CodeReminder(code string) string {
	return `Your code is <break time="1s"/>` + Spell(code)
}
