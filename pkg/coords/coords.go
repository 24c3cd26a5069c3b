// Package coords parses the coordinate notations accepted by the tools:
// decimal degrees ("48.8566, 2.3522"), degrees/minutes/seconds
// (48°51'24"N 2°21'8"E) and MGRS grid references (31UDQ5248511718).
package coords

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/akhenakh/mgrs"
	"github.com/paulmach/orb"
)

// Format is a coordinate notation.
type Format int

const (
	FormatUnknown Format = iota
	FormatDecimal
	FormatDMS
	FormatMGRS
)

func (f Format) String() string {
	switch f {
	case FormatDecimal:
		return "decimal"
	case FormatDMS:
		return "dms"
	case FormatMGRS:
		return "mgrs"
	default:
		return "unknown"
	}
}

// ErrUnrecognized is returned by Parse when no notation matches the input.
var ErrUnrecognized = errors.New("coords: unrecognized coordinate")

// Location is a WGS84 position in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Point returns the location as an orb point (lon, lat).
func (l Location) Point() orb.Point {
	return orb.Point{l.Longitude, l.Latitude}
}

// Valid reports whether the location lies within the WGS84 ranges.
func (l Location) Valid() bool {
	return ValidLatLon(l.Latitude, l.Longitude)
}

// ParseResult is a parsed coordinate.
type ParseResult struct {
	Location Location
	Format   Format
	Original string
}

var (
	decimalRe = regexp.MustCompile(`^\s*([-+]?\d{1,3}(?:\.\d+)?)\s*[,;\s]\s*([-+]?\d{1,3}(?:\.\d+)?)\s*$`)
	dmsRe     = regexp.MustCompile(`(\d{1,3})\s*[°\s]\s*(\d{1,2})\s*['′\s]\s*(\d{1,2}(?:\.\d+)?)\s*(?:"|″|'')?\s*([NSEW])`)
	mgrsRe    = regexp.MustCompile(`^(\d{1,2})([C-HJ-NP-X])([A-HJ-NP-Z]{2})(\d{2,10})$`)
)

type parser struct {
	format Format
	match  func(string) bool
	parse  func(string) (*ParseResult, error)
}

// Order matters: decimal pairs are tried before MGRS so that "12, 34" is
// never read as a grid reference.
var parsers = []parser{
	{FormatDecimal, decimalRe.MatchString, ParseDecimal},
	{FormatDMS, func(s string) bool { return len(dmsRe.FindAllString(strings.ToUpper(s), -1)) == 2 }, ParseDMS},
	{FormatMGRS, func(s string) bool { return mgrsRe.MatchString(compactMGRS(s)) }, ParseMGRS},
}

// Parse detects the notation of input and parses it.
func Parse(input string) (*ParseResult, error) {
	for _, p := range parsers {
		if p.match(input) {
			return p.parse(input)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnrecognized, input)
}

// DetectFormat returns the notation input appears to be written in.
func DetectFormat(input string) Format {
	for _, p := range parsers {
		if p.match(input) {
			return p.format
		}
	}
	return FormatUnknown
}

// IsCoordinate reports whether input parses as a valid coordinate in any
// supported notation. Place names and addresses are never coordinates.
func IsCoordinate(input string) bool {
	_, err := Parse(input)
	return err == nil
}

// ParseDecimal parses a "lat, lon" pair of decimal degrees. A comma,
// semicolon or whitespace separates the two numbers.
func ParseDecimal(input string) (*ParseResult, error) {
	m := decimalRe.FindStringSubmatch(input)
	if m == nil {
		return nil, fmt.Errorf("invalid decimal coordinate: %q", input)
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q: %w", m[1], err)
	}
	lon, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q: %w", m[2], err)
	}
	return result(lat, lon, FormatDecimal, input)
}

// ParseDMS parses a degrees/minutes/seconds pair with hemisphere letters,
// latitude and longitude in either order.
func ParseDMS(input string) (*ParseResult, error) {
	parts := dmsRe.FindAllStringSubmatch(strings.ToUpper(input), -1)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid DMS coordinate: %q", input)
	}

	var lat, lon float64
	var haveLat, haveLon bool
	for _, p := range parts {
		deg, _ := strconv.ParseFloat(p[1], 64)
		min, _ := strconv.ParseFloat(p[2], 64)
		sec, _ := strconv.ParseFloat(p[3], 64)
		if min >= 60 || sec >= 60 {
			return nil, fmt.Errorf("invalid DMS component in %q", p[0])
		}
		v := deg + min/60 + sec/3600

		switch p[4] {
		case "S":
			v = -v
			fallthrough
		case "N":
			lat, haveLat = v, true
		case "W":
			v = -v
			fallthrough
		case "E":
			lon, haveLon = v, true
		}
	}
	if !haveLat || !haveLon {
		return nil, fmt.Errorf("DMS coordinate needs one N/S and one E/W part: %q", input)
	}
	return result(lat, lon, FormatDMS, input)
}

// ParseMGRS parses an MGRS grid reference. Spaces are ignored; the numeric
// part holds 2 to 10 digits, an even count.
func ParseMGRS(input string) (*ParseResult, error) {
	ref := compactMGRS(input)
	m := mgrsRe.FindStringSubmatch(ref)
	if m == nil {
		return nil, fmt.Errorf("invalid MGRS reference: %q", input)
	}
	if zone, _ := strconv.Atoi(m[1]); zone < 1 || zone > 60 {
		return nil, fmt.Errorf("invalid MGRS zone %s", m[1])
	}
	if len(m[4])%2 != 0 {
		return nil, fmt.Errorf("MGRS reference %q has an odd number of digits", input)
	}

	lat, lon, err := mgrs.MGRSToLatLng(ref)
	if err != nil {
		return nil, fmt.Errorf("convert MGRS %q: %w", ref, err)
	}
	return result(lat, lon, FormatMGRS, ref)
}

// ToMGRS formats a position as an MGRS reference with precision digits per
// axis (1 to 5).
func ToMGRS(lat, lon float64, precision int) (string, error) {
	if !ValidLatLon(lat, lon) {
		return "", fmt.Errorf("invalid position %f, %f", lat, lon)
	}
	if precision < 1 || precision > 5 {
		return "", fmt.Errorf("MGRS precision must be between 1 and 5, got %d", precision)
	}
	ref, err := mgrs.LatLngToMGRS(lat, lon, precision)
	if err != nil {
		return "", fmt.Errorf("convert to MGRS: %w", err)
	}
	return ref, nil
}

// ValidLatLon reports whether lat and lon are finite and within range.
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func result(lat, lon float64, f Format, original string) (*ParseResult, error) {
	if !ValidLatLon(lat, lon) {
		return nil, fmt.Errorf("coordinate out of range: lat=%f lon=%f", lat, lon)
	}
	return &ParseResult{
		Location: Location{Latitude: lat, Longitude: lon},
		Format:   f,
		Original: original,
	}, nil
}

func compactMGRS(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}
