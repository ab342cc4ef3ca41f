// Package nameparse extracts structured volume metadata from archive
// filenames. Parsing is deterministic and never fails: fields the filename does
// not carry stay unset, and the caller decides what an absent volume number
// means.
package nameparse

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Metadata is the structured form of one archive filename.
type Metadata struct {
	Title      string
	Volume     *int
	PartNumber *int
	PartName   string
	Author     string
	Year       *int
	Resolution string
	Format     string
}

var (
	partRe       = regexp.MustCompile(`(?i)(?:Part|Arc|Partie)\s+(\d+)`)
	yearRe       = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	resolutionRe = regexp.MustCompile(`\d{3,4}x\d{3,4}`)
	authorRe     = regexp.MustCompile(`\(([^)]+)\)`)
	dashAuthorRe = regexp.MustCompile(`-\s*([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*)\s*$`)
	langTailRe   = regexp.MustCompile(`(?i)\s+(?:FR|EN|VF|VO|FRENCH|ENGLISH)\s*$`)
	releaseTagRe = regexp.MustCompile(`\s*-\s*\S+\s*$`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Volume patterns tried in order. A match is accepted only when its integer is
// neither year-shaped (1800-2099) nor above 999.
var volumePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Tome[.\s](\d+)`),
	regexp.MustCompile(`\bT[.\s]?(\d+)`),
	regexp.MustCompile(`(?i)\bVol\.?\s*(\d+)`),
	regexp.MustCompile(`(?i)\bVolume[.\s](\d+)`),
	regexp.MustCompile(`\bv[.\s]?(\d+)`),
	regexp.MustCompile(`#(\d+)`),
	regexp.MustCompile(`-\s*(\d+)(?:\s|$)`),
	regexp.MustCompile(`\s(\d{1,2})\s*[(\[]`),
	regexp.MustCompile(`(?i)\s(\d+)\s*(?:FR|EN|VF|VO)\b`),
	regexp.MustCompile(`\s(\d{1,3})$`),
}

// Volume token pattern used after a part marker. T-prefixed numbering is the
// only form the source naming convention combines with parts.
var partVolumeRe = regexp.MustCompile(`(?i)\bT(?:ome)?[.\s]?(\d+)`)

// Parse converts a filename (with extension) into Metadata. It never fails.
func Parse(filename string) Metadata {
	meta := Metadata{}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	meta.Format = strings.ToLower(strings.TrimPrefix(ext, "."))

	normalized := normalize(stem)

	var partEnd, titleEnd = -1, -1

	if loc := partRe.FindStringSubmatchIndex(normalized); loc != nil {
		number, err := strconv.Atoi(normalized[loc[2]:loc[3]])
		if err == nil {
			meta.PartNumber = &number
			titleEnd = loc[0]
			partEnd = loc[1]
		}
	}

	volume, volStart := findVolume(normalized, partEnd)
	if volume != nil {
		meta.Volume = volume
		if titleEnd < 0 {
			titleEnd = volStart
		}
	}

	if meta.PartNumber != nil {
		nameEnd := len(normalized)
		if volStart > partEnd {
			nameEnd = volStart
		}
		meta.PartName = trimSeparators(normalized[partEnd:nameEnd])
	}

	meta.Title = extractTitle(normalized, titleEnd)
	meta.Author = extractAuthor(normalized, volStart)

	if loc := yearRe.FindString(stem); loc != "" {
		if year, err := strconv.Atoi(loc); err == nil {
			meta.Year = &year
		}
	}
	meta.Resolution = resolutionRe.FindString(stem)

	return meta
}

// CanonicalName rebuilds a normalized display filename from parsed fields.
// Round-tripping a canonical name through Parse preserves title, part, and
// volume.
func (m Metadata) CanonicalName() string {
	var builder strings.Builder
	builder.WriteString(m.Title)
	if m.PartNumber != nil {
		fmt.Fprintf(&builder, " - Part %d", *m.PartNumber)
		if m.PartName != "" {
			builder.WriteString(" - ")
			builder.WriteString(m.PartName)
		}
	}
	if m.Volume != nil {
		fmt.Fprintf(&builder, " T%02d", *m.Volume)
	}
	if m.Format != "" {
		builder.WriteByte('.')
		builder.WriteString(m.Format)
	}
	return builder.String()
}

func normalize(stem string) string {
	var out []rune
	runes := []rune(strings.ReplaceAll(stem, "_", " "))
	for i, r := range runes {
		if r == '.' {
			prevDigit := i > 0 && isDigit(runes[i-1])
			nextDigit := i+1 < len(runes) && isDigit(runes[i+1])
			if !(prevDigit && nextDigit) {
				out = append(out, ' ')
				continue
			}
		}
		out = append(out, r)
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(string(out), " "))
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// findVolume returns the volume number and the match start within normalized,
// or (nil, -1). When partEnd >= 0 the search is anchored after the part token
// first.
func findVolume(normalized string, partEnd int) (*int, int) {
	if partEnd >= 0 && partEnd <= len(normalized) {
		tail := normalized[partEnd:]
		if loc := partVolumeRe.FindStringSubmatchIndex(tail); loc != nil {
			if number, ok := acceptVolume(tail[loc[2]:loc[3]]); ok {
				return &number, partEnd + loc[0]
			}
		}
	}

	for _, pattern := range volumePatterns {
		for _, loc := range pattern.FindAllStringSubmatchIndex(normalized, -1) {
			number, ok := acceptVolume(normalized[loc[2]:loc[3]])
			if !ok {
				continue
			}
			return &number, loc[0]
		}
	}
	return nil, -1
}

func acceptVolume(digits string) (int, bool) {
	number, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	if number >= 1800 && number <= 2099 {
		return 0, false
	}
	if number > 999 {
		return 0, false
	}
	return number, true
}

func extractTitle(normalized string, titleEnd int) string {
	if titleEnd >= 0 {
		return trimSeparators(normalized[:titleEnd])
	}
	title := langTailRe.ReplaceAllString(normalized, "")
	if loc := releaseTagRe.FindStringIndex(title); loc != nil && loc[0] > 0 {
		title = title[:loc[0]]
	}
	return trimSeparators(title)
}

func extractAuthor(normalized string, volStart int) string {
	for _, match := range authorRe.FindAllStringSubmatch(normalized, -1) {
		candidate := strings.TrimSpace(match[1])
		if yearRe.MatchString(candidate) && len(candidate) == 4 {
			continue
		}
		if candidate != "" {
			return candidate
		}
	}
	if volStart > 0 {
		prefix := strings.TrimSpace(normalized[:volStart])
		if match := dashAuthorRe.FindStringSubmatch(prefix); match != nil {
			return strings.TrimSpace(match[1])
		}
	}
	return ""
}

func trimSeparators(value string) string {
	return strings.Trim(value, " -")
}
