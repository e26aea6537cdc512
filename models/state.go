package models

import (
	"strings"
)

// State is the canonical name of one of the 28 Indian states recognised for
// place-of-supply decisions.
type State string

// GST state codes, also the first two digits of a GSTIN.
var stateCodes = map[State]string{
	"Andhra Pradesh":    "37",
	"Arunachal Pradesh": "12",
	"Assam":             "18",
	"Bihar":             "10",
	"Chhattisgarh":      "22",
	"Goa":               "30",
	"Gujarat":           "24",
	"Haryana":           "06",
	"Himachal Pradesh":  "02",
	"Jharkhand":         "20",
	"Karnataka":         "29",
	"Kerala":            "32",
	"Madhya Pradesh":    "23",
	"Maharashtra":       "27",
	"Manipur":           "14",
	"Meghalaya":         "17",
	"Mizoram":           "15",
	"Nagaland":          "13",
	"Odisha":            "21",
	"Punjab":            "03",
	"Rajasthan":         "08",
	"Sikkim":            "11",
	"Tamil Nadu":        "33",
	"Telangana":         "36",
	"Tripura":           "16",
	"Uttar Pradesh":     "09",
	"Uttarakhand":       "05",
	"West Bengal":       "19",
}

// lookup key -> canonical name
var stateIndex = func() map[string]State {
	m := make(map[string]State, len(stateCodes))
	for s := range stateCodes {
		m[stateKey(string(s))] = s
	}
	return m
}()

func stateKey(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

// NormalizeState trims, collapses whitespace and case-folds raw before matching
// it against the closed list of states. Unknown names are a ValidationError.
func NormalizeState(raw string) (State, error) {
	s, ok := stateIndex[stateKey(raw)]
	if !ok {
		return "", &ValidationError{
			Message: "invalid state",
			Fields:  map[string]string{"state": "unrecognised state " + strings.TrimSpace(raw)},
		}
	}
	return s, nil
}

// Code returns the two digit GST state code.
func (s State) Code() string {
	return stateCodes[s]
}

func (s State) String() string {
	return string(s)
}

// States lists the canonical names in no particular order.
func States() []State {
	out := make([]State, 0, len(stateCodes))
	for s := range stateCodes {
		out = append(out, s)
	}
	return out
}
