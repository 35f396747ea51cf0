package transcript

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTimestamp converts "HH:MM:SS.mmm" or "MM:SS.mmm" to seconds. Any other
// shape is parsed as a plain number of seconds.
func ParseTimestamp(ts string) (float64, error) {
	ts = strings.TrimSpace(ts)
	parts := strings.Split(ts, ":")

	var (
		h, m int
		sec  string
		err  error
	)
	switch len(parts) {
	case 3:
		if h, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedTimestamp, ts)
		}
		if m, err = strconv.Atoi(parts[1]); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedTimestamp, ts)
		}
		sec = parts[2]
	case 2:
		if m, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedTimestamp, ts)
		}
		sec = parts[1]
	default:
		sec = ts
	}

	s, err := strconv.ParseFloat(sec, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTimestamp, ts)
	}
	return float64(h*3600+m*60) + s, nil
}

// ParseVTT reads WebVTT subtitles. Every cue becomes one segment; cue
// settings after the end timestamp (align:start etc.) are ignored.
func ParseVTT(content string) (Transcript, error) {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	var b builder

	for i := 0; i < len(lines); {
		line := strings.TrimSpace(lines[i])
		if line == "" || !strings.Contains(line, "-->") {
			i++
			continue
		}

		start, end, err := parseCueTiming(line)
		if err != nil {
			return Transcript{}, fmt.Errorf("line %d: %w", i+1, err)
		}

		var text []string
		i++
		for i < len(lines) {
			l := strings.TrimSpace(lines[i])
			if l == "" || strings.Contains(l, "-->") {
				break
			}
			text = append(text, strings.ReplaceAll(l, "&nbsp;", ""))
			i++
		}

		// drop speaker dashes like "- Hi"
		b.add(start, end, strings.TrimLeft(strings.Join(text, " "), "- "))
	}
	return b.build(), nil
}

func parseCueTiming(line string) (float64, float64, error) {
	left, right, _ := strings.Cut(line, "-->")
	right = strings.TrimSpace(right)
	if i := strings.IndexAny(right, " \t"); i >= 0 {
		right = right[:i]
	}
	start, err := ParseTimestamp(left)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseTimestamp(right)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}
