// Package gaps derives missing volume numbers and completeness
// classifications from catalog series.
package gaps

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"tomarr/internal/catalog"
)

// Classification labels for a series with known canonical metadata.
const (
	ClassIncomplete        = "incomplete"
	ClassCompletedWithGaps = "completed_with_gaps"
	ClassHasNewer          = "has_newer"
	ClassComplete          = "complete"
)

// Missing returns the sorted gaps between the lowest and highest owned volume
// numbers. Volumes without a parsed number are ignored; an empty or singleton
// set has no gaps.
func Missing(volumes []*catalog.Volume) []int {
	present := map[int]struct{}{}
	for _, v := range volumes {
		if v.VolumeNumber != nil {
			present[*v.VolumeNumber] = struct{}{}
		}
	}
	if len(present) == 0 {
		return nil
	}

	numbers := make([]int, 0, len(present))
	for n := range present {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	var missing []int
	for n := numbers[0]; n <= numbers[len(numbers)-1]; n++ {
		if _, ok := present[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// Classify labels a series from its missing set, highest owned volume
// number, and canonical metadata. Interior gaps win over newer volumes;
// a gapless run whose canonical total announces volumes past maxOwned is
// has_newer. The status match tolerates accents and case so "Terminé" and
// "COMPLETED" both count as finished runs.
func Classify(missing []int, maxOwned int, canonical catalog.Canonical) string {
	if len(missing) > 0 {
		if statusIsFinished(canonical.Status) {
			return ClassCompletedWithGaps
		}
		return ClassIncomplete
	}
	if canonical.Total != nil && maxOwned > 0 && *canonical.Total > maxOwned {
		return ClassHasNewer
	}
	return ClassComplete
}

// Newer returns the volume numbers the canonical total announces beyond the
// highest owned number. Returns nil when the canonical total is unknown or
// the library already reaches it.
func Newer(volumes []*catalog.Volume, canonicalTotal *int) []int {
	if canonicalTotal == nil || *canonicalTotal <= 0 {
		return nil
	}
	highest := 0
	for _, v := range volumes {
		if v.VolumeNumber != nil && *v.VolumeNumber > highest {
			highest = *v.VolumeNumber
		}
	}
	if highest == 0 || *canonicalTotal <= highest {
		return nil
	}
	newer := make([]int, 0, *canonicalTotal-highest)
	for n := highest + 1; n <= *canonicalTotal; n++ {
		newer = append(newer, n)
	}
	return newer
}

func statusIsFinished(status string) bool {
	folded := foldAccents(strings.ToLower(strings.TrimSpace(status)))
	return strings.HasPrefix(folded, "compl") || strings.HasPrefix(folded, "termin")
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldAccents(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		return s
	}
	return out
}
