package feed

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// wireField is one value of a BusTime vehicle record. The feed sends numbers
// as strings, but a bare JSON number is accepted and kept as its text.
type wireField struct {
	text string
	set  bool
}

func (f *wireField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = wireField{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = wireField{text: s, set: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = wireField{text: n.String(), set: true}
	return nil
}

// wireVehicle is a BusTime getvehicles record. Fields the map does not use
// (pid, pdist, dly, spd, tatripid, ...) are ignored.
type wireVehicle struct {
	Vid    wireField `json:"vid"`
	Rt     wireField `json:"rt"`
	Des    wireField `json:"des"`
	Lat    wireField `json:"lat"`
	Lon    wireField `json:"lon"`
	Hdg    wireField `json:"hdg"`
	Tmstmp wireField `json:"tmstmp"`
}

// missing returns the wire name of the first absent required field, or "".
func (w wireVehicle) missing() string {
	required := []struct {
		name string
		f    wireField
	}{
		{"vid", w.Vid},
		{"rt", w.Rt},
		{"lat", w.Lat},
		{"lon", w.Lon},
		{"hdg", w.Hdg},
		{"tmstmp", w.Tmstmp},
	}
	for _, r := range required {
		if !r.f.set {
			return r.name
		}
	}
	return ""
}

// parseFloat never fails: text that is not a number yields NaN.
func parseFloat(text string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// parseHeading reads whole degrees; a fractional part is truncated.
func parseHeading(text string) float64 {
	return math.Trunc(parseFloat(text))
}
