package markethours

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NSE holidays for 2026.
// Source: NSE India official holiday list.
var nseHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 26},  // Republic Day
	{time.February, 17}, // Mahashivratri (tentative)
	{time.March, 14},    // Holi
	{time.March, 31},    // Id-ul-Fitr (Eid) (tentative)
	{time.April, 2},     // Ram Navami (tentative)
	{time.April, 6},     // Mahavir Jayanti
	{time.April, 10},    // Good Friday
	{time.April, 14},    // Dr. Ambedkar Jayanti
	{time.May, 1},       // Maharashtra Day
	{time.June, 7},      // Bakrid / Eid ul-Adha (tentative)
	{time.July, 6},      // Muharram (tentative)
	{time.August, 15},   // Independence Day
	{time.August, 16},   // Janmashtami (tentative)
	{time.September, 5}, // Milad-un-Nabi (tentative)
	{time.October, 2},   // Mahatma Gandhi Jayanti
	{time.October, 20},  // Dussehra
	{time.October, 21},  // Dussehra (tentative)
	{time.November, 5},  // Diwali / Lakshmi Puja (tentative)
	{time.November, 6},  // Diwali Balipratipada (tentative)
	{time.November, 7},  // Bhai Dooj (tentative)
	{time.November, 19}, // Guru Nanak Jayanti
	{time.December, 25}, // Christmas
}

func defaultHolidays() map[string]bool {
	set := make(map[string]bool, len(nseHolidays2026))
	for _, h := range nseHolidays2026 {
		set[dateKey(2026, h.month, h.day)] = true
	}
	return set
}

// holidayFile is the YAML layout accepted by LoadHolidaysYAML:
//
//	holidays:
//	  - date: 2027-01-26
//	    name: Republic Day
type holidayFile struct {
	Holidays []struct {
		Date string `yaml:"date"`
		Name string `yaml:"name"`
	} `yaml:"holidays"`
}

// LoadHolidaysYAML reads a holiday list and returns a calendar using it in
// place of the built-in 2026 list.
func LoadHolidaysYAML(path string) (*Calendar, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("markethours: read holidays: %w", err)
	}
	return ParseHolidaysYAML(b)
}

// ParseHolidaysYAML parses the holiday YAML document in b.
func ParseHolidaysYAML(b []byte) (*Calendar, error) {
	var f holidayFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("markethours: parse holidays: %w", err)
	}
	dates := make([]time.Time, 0, len(f.Holidays))
	for i, h := range f.Holidays {
		d, err := time.ParseInLocation("2006-01-02", h.Date, IST)
		if err != nil {
			return nil, fmt.Errorf("markethours: holiday %d (%s): %w", i, h.Name, err)
		}
		dates = append(dates, d)
	}
	return NewCalendar(dates...), nil
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, IST).Format("2006-01-02")
}
