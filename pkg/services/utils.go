package services

import (
	"sort"
	"strings"

	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

// NaturalLess orders names so that embedded numbers compare by value:
// "PLC2" sorts before "PLC10". Digit runs compare numerically, other runs
// case-insensitively.
func NaturalLess(a, b string) bool {
	if c := naturalCompare(a, b); c != 0 {
		return c < 0
	}
	// Fully equal under the natural rules ("a1" vs "A01"): fall back to the raw bytes
	// so the order stays total.
	return a < b
}

func naturalCompare(a, b string) int {
	for a != "" && b != "" {
		ra, restA := nextRun(a)
		rb, restB := nextRun(b)

		aDigit, bDigit := isDigit(ra[0]), isDigit(rb[0])
		var c int
		switch {
		case aDigit && bDigit:
			c = compareNumeric(ra, rb)
		case aDigit != bDigit:
			// digits sort before letters, as they do in ASCII
			if aDigit {
				c = -1
			} else {
				c = 1
			}
		default:
			c = strings.Compare(strings.ToLower(ra), strings.ToLower(rb))
		}
		if c != 0 {
			return c
		}
		a, b = restA, restB
	}

	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

// nextRun splits off the leading maximal run of digits or non-digits
func nextRun(s string) (run, rest string) {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i], s[i:]
}

// compareNumeric compares two digit runs by value without overflowing
func compareNumeric(a, b string) int {
	ta := strings.TrimLeft(a, "0")
	tb := strings.TrimLeft(b, "0")
	if len(ta) != len(tb) {
		if len(ta) < len(tb) {
			return -1
		}
		return 1
	}
	return strings.Compare(ta, tb)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// SortChildViews orders children by natural name order
func SortChildViews(children []models.ChildView) {
	sort.SliceStable(children, func(i, j int) bool {
		return NaturalLess(children[i].Name, children[j].Name)
	})
}

// SortEntityViews orders parents by natural name order
func SortEntityViews(views []models.EntityView) {
	sort.SliceStable(views, func(i, j int) bool {
		return NaturalLess(views[i].Name, views[j].Name)
	})
}
