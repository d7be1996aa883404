package services

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	percentPattern     = regexp.MustCompile(`^\[download\]\s+(\d{1,3}(?:\.\d+)?)%`)
	destinationPattern = regexp.MustCompile(`Destination:\s+(.+)$`)
	mergerPattern      = regexp.MustCompile(`Merging formats into "(.+)"`)
	alreadyPattern     = regexp.MustCompile(`^\[download\]\s+(.+?) has already been downloaded`)
)

// ProgressSignal is what one line of downloader output says about a job.
type ProgressSignal struct {
	Percent     float64
	HasPercent  bool
	// Destination is an output path the downloader announced. Later
	// announcements supersede earlier ones (stream, then merge, then remux).
	Destination string
}

// Empty reports whether the line carried no signal.
func (s ProgressSignal) Empty() bool {
	return !s.HasPercent && s.Destination == ""
}

// ParseProgressLine extracts progress from one line of downloader output.
// Lines that match nothing yield an empty signal.
func ParseProgressLine(line string) ProgressSignal {
	line = strings.TrimRight(line, "\r\n")
	var sig ProgressSignal

	if m := alreadyPattern.FindStringSubmatch(line); m != nil {
		sig.Percent, sig.HasPercent = 100, true
		sig.Destination = strings.TrimSpace(m[1])
		return sig
	}
	if m := mergerPattern.FindStringSubmatch(line); m != nil {
		sig.Destination = m[1]
		return sig
	}
	if m := percentPattern.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			sig.Percent, sig.HasPercent = clampPercent(pct), true
		}
	}
	if m := destinationPattern.FindStringSubmatch(line); m != nil {
		sig.Destination = strings.TrimSpace(m[1])
	}
	return sig
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
