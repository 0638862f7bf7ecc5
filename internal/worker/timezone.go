package worker

import (
	"strings"
	"time"
)

var countryZones = map[string]string{
	"CO":          "America/Bogota",
	"COLOMBIA":    "America/Bogota",
	"MX":          "America/Mexico_City",
	"MEXICO":      "America/Mexico_City",
	"PE":          "America/Lima",
	"PERU":        "America/Lima",
	"EC":          "America/Guayaquil",
	"AR":          "America/Argentina/Buenos_Aires",
	"CL":          "America/Santiago",
	"ES":          "Europe/Madrid",
	"SPAIN":       "Europe/Madrid",
	"DE":          "Europe/Berlin",
	"GERMANY":     "Europe/Berlin",
	"DEUTSCHLAND": "Europe/Berlin",
	"AT":          "Europe/Vienna",
	"CH":          "Europe/Zurich",
	"US":          "America/New_York",
}

// LocationFor returns the tenant's local time zone, or fallback for unknown countries.
func LocationFor(country string, fallback *time.Location) *time.Location {
	name, ok := countryZones[strings.ToUpper(strings.TrimSpace(country))]
	if !ok {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}
