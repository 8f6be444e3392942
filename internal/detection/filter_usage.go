package detection

import (
	"fmt"
	"strconv"
)

// FilterUsage is the closed vocabulary of filter definition usages.
type FilterUsage int

// Filter usages.
const (
	FilterUsageDetection FilterUsage = iota + 1
	FilterUsageFK
	FilterUsageOnset
	FilterUsageAmplitude
)

var filterUsageNames = map[FilterUsage]string{
	FilterUsageDetection: "DETECTION",
	FilterUsageFK:        "FK",
	FilterUsageOnset:     "ONSET",
	FilterUsageAmplitude: "AMPLITUDE",
}

func (u FilterUsage) String() string {
	if name, ok := filterUsageNames[u]; ok {
		return name
	}

	return "usage(" + strconv.Itoa(int(u)) + ")"
}

// MarshalText encodes the usage by name so it can key JSON objects.
func (u FilterUsage) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText decodes a usage name written by MarshalText.
func (u *FilterUsage) UnmarshalText(text []byte) error {
	for usage, name := range filterUsageNames {
		if name == string(text) {
			*u = usage

			return nil
		}
	}

	return fmt.Errorf("unknown filter usage %q", text)
}

// ParseFilterUsage maps a legacy dynpars group name to its usage.
func ParseFilterUsage(groupName string) (FilterUsage, bool) {
	switch groupName {
	case "DETECT":
		return FilterUsageDetection, true
	case "FK":
		return FilterUsageFK, true
	case "ONSET":
		return FilterUsageOnset, true
	case "MEASURE":
		return FilterUsageAmplitude, true
	default:
		return 0, false
	}
}
