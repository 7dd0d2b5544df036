package analysis

import (
	"strconv"
	"strings"
)

// parseCompletion extracts the sectioned reasoning output into a Record.
// The parser is forgiving: unknown lines fold into the section being read,
// and a malformed confidence defaults to the midpoint.
func parseCompletion(text string) Record {
	rec := Record{Confidence: 3}

	section := ""
	var para []string
	flush := func() {
		joined := strings.TrimSpace(strings.Join(para, " "))
		switch section {
		case "THESIS":
			rec.Thesis = joined
		case "TECHNICAL":
			rec.TechnicalSetup = joined
		case "BOTTOM_LINE":
			rec.BottomLine = joined
		}
		para = para[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "CONFIDENCE:"):
			flush()
			section = ""
			if n, err := strconv.Atoi(strings.TrimSpace(line[len("CONFIDENCE:"):])); err == nil && n >= 1 && n <= 5 {
				rec.Confidence = n
			}
		case strings.HasPrefix(upper, "THESIS:"):
			flush()
			section = "THESIS"
			para = append(para, strings.TrimSpace(line[len("THESIS:"):]))
		case strings.HasPrefix(upper, "BULLISH:"):
			flush()
			section = "BULLISH"
		case strings.HasPrefix(upper, "BEARISH:"):
			flush()
			section = "BEARISH"
		case strings.HasPrefix(upper, "TECHNICAL:"):
			flush()
			section = "TECHNICAL"
			para = append(para, strings.TrimSpace(line[len("TECHNICAL:"):]))
		case strings.HasPrefix(upper, "CATALYSTS:"):
			flush()
			section = "CATALYSTS"
		case strings.HasPrefix(upper, "BOTTOM_LINE:"):
			flush()
			section = "BOTTOM_LINE"
			para = append(para, strings.TrimSpace(line[len("BOTTOM_LINE:"):]))
		case strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*"):
			item := strings.TrimSpace(strings.TrimLeft(line, "-* "))
			if item == "" {
				continue
			}
			switch section {
			case "BULLISH":
				rec.BullishFactors = append(rec.BullishFactors, item)
			case "BEARISH":
				rec.BearishFactors = append(rec.BearishFactors, item)
			case "CATALYSTS":
				rec.Catalysts = append(rec.Catalysts, item)
			default:
				para = append(para, item)
			}
		default:
			para = append(para, line)
		}
	}
	flush()
	return rec
}
