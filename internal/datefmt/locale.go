package datefmt

import "strings"

// Locale selects month names for Localized.
type Locale string

const (
	Russian Locale = "ru"
	English Locale = "en"
)

type monthNames struct {
	nominative [12]string
	genitive   [12]string
}

var monthTables = map[Locale]monthNames{
	Russian: {
		nominative: [12]string{"январь", "февраль", "март", "апрель", "май", "июнь", "июль", "август", "сентябрь", "октябрь", "ноябрь", "декабрь"},
		genitive:   [12]string{"января", "февраля", "марта", "апреля", "мая", "июня", "июля", "августа", "сентября", "октября", "ноября", "декабря"},
	},
	English: {
		nominative: [12]string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
		genitive:   [12]string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
	},
}

// ParseLocale maps a config value to a Locale, defaulting to Russian.
func ParseLocale(s string) Locale {
	l := Locale(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := monthTables[l]; ok {
		return l
	}
	return Russian
}

func (l Locale) names() monthNames {
	if t, ok := monthTables[l]; ok {
		return t
	}
	return monthTables[Russian]
}
