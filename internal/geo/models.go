// Package geo resolves IP-based geolocation through an ordered list of public
// providers, degrading to an explicit "Unknown" result when all of them fail.
package geo

// UnknownValue fills the place fields of an unresolved location.
const UnknownValue = "Unknown"

// Status distinguishes a provider-backed location from the degraded variant.
type Status string

const (
	StatusResolved Status = "resolved"
	StatusUnknown  Status = "unknown"
)

// Location is a normalized geolocation record.
type Location struct {
	IP          string  `json:"ip,omitempty"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode,omitempty"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Timezone    string  `json:"timezone"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	Source      string  `json:"source,omitempty"`
}

// Result is a geolocation outcome. Status and Location are always consistent:
// an unknown result carries UnknownValue place fields and the local timezone.
type Result struct {
	Status   Status   `json:"status"`
	Location Location `json:"location"`
}

// Resolved reports whether a provider produced the location.
func (r Result) Resolved() bool {
	return r.Status == StatusResolved
}

// Unknown builds the degraded result, decorated with the locally known timezone.
func Unknown(timezone string) Result {
	if timezone == "" {
		timezone = "UTC"
	}
	return Result{
		Status: StatusUnknown,
		Location: Location{
			Country:  UnknownValue,
			Region:   UnknownValue,
			City:     UnknownValue,
			Timezone: timezone,
		},
	}
}
