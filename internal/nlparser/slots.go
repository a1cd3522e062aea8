package nlparser

import (
	"regexp"
	"strconv"
	"strings"
)

// Slot-extraction regexes and unit/synonym tables.

var distancePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(センチ|cm|centimeters?|メートル|m|meters?)?`)
var anglePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(度|deg|degrees?)?`)

var directionSynonyms = map[string]int{
	"forward": 0, "ahead": 0, "前": 0, "まえ": 0,
	"back": 1, "backward": 1, "backwards": 1, "後ろ": 1, "うしろ": 1, "後": 1,
	"left": 2, "左": 2, "ひだり": 2,
	"right": 3, "右": 3, "みぎ": 3,
	"up": 4, "上": 4, "うえ": 4,
	"down": 5, "下": 5, "した": 5,
}

// speedTiers maps a named speed tier to its canonical cm/s value.
var speedTiers = map[string]float64{
	"slow": 30, "遅い": 30, "ゆっくり": 30,
	"normal": 60, "普通": 60,
	"fast": 100, "速い": 100, "はやい": 100,
}

// extractDirection scans text for any known direction synonym and returns
// its canonical numeric code (matching internal/router's directionNames
// encoding) plus whether one was found.
func extractDirection(text string) (int, bool) {
	lower := strings.ToLower(text)
	for word, code := range directionSynonyms {
		if strings.Contains(lower, word) {
			return code, true
		}
	}
	return 0, false
}

// extractDistance finds a numeric distance and normalizes it to centimeters
// (m -> x100, cm -> x1, センチ/メートル).
func extractDistance(text string) (float64, bool) {
	m := distancePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	unit := strings.ToLower(m[2])
	switch unit {
	case "m", "meters", "meter", "メートル":
		return value * 100, true
	default:
		return value, true
	}
}

// extractAngle finds a numeric angle in degrees.
func extractAngle(text string) (float64, bool) {
	m := anglePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// extractSpeed finds a named speed tier and returns its canonical cm/s.
func extractSpeed(text string) (float64, bool) {
	lower := strings.ToLower(text)
	for word, cmPerSec := range speedTiers {
		if strings.Contains(lower, word) {
			return cmPerSec, true
		}
	}
	return 0, false
}

// extractRotationDirection distinguishes clockwise (0) from
// counterclockwise (1), matching internal/router's rotationFromParams.
func extractRotationDirection(text string) (int, bool) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "counterclockwise"), strings.Contains(lower, "ccw"),
		strings.Contains(lower, "反時計回り"), strings.Contains(lower, "左回り"):
		return 1, true
	case strings.Contains(lower, "clockwise"), strings.Contains(lower, "cw"),
		strings.Contains(lower, "時計回り"), strings.Contains(lower, "右回り"):
		return 0, true
	}
	return 0, false
}

// bannedPatterns rejects obviously hostile input before any pattern
// matching runs.
var bannedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\beval\(`),
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`(?i)\bdrop\s+table\b`),
}

func containsBannedPattern(text string) (string, bool) {
	for _, p := range bannedPatterns {
		if p.MatchString(text) {
			return p.String(), true
		}
	}
	return "", false
}
