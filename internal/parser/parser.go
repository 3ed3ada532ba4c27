package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviobatista/dxcluster-proxy/internal/log"
	"github.com/saviobatista/dxcluster-proxy/internal/types"
)

// SpotMarker prefixes every spot announcement on the cluster wire
const SpotMarker = "DX de "

var (
	// ErrNotSpot is returned for lines that do not follow the announcement grammar
	ErrNotSpot = errors.New("not a spot announcement")

	spotPattern = regexp.MustCompile(`(?i)^DX de\s+([A-Z0-9/#\-]+):\s*(\d+(?:\.\d+)?)\s+([A-Z0-9/#\-]+)(?:\s+(.*))?$`)
	timePattern = regexp.MustCompile(`(?:^|\s)(\d{2})(\d{2})[Zz]\s*$`)

	dualGridPattern   = regexp.MustCompile(`(?i)\b([A-Z]{2}\d{2}(?:[A-Z]{2})?)\s*(?:<>|<->|->|<-|<|>|/|-)\s*([A-Z]{2}\d{2}(?:[A-Z]{2})?)\b`)
	singleGridPattern = regexp.MustCompile(`(?i)\b([A-Z]{2}\d{2}(?:[A-Z]{2})?)\b`)
)

// modeKeywords is checked in order; the first keyword found wins
var modeKeywords = []struct {
	keyword string
	mode    types.Mode
}{
	{"FT8", types.ModeFT8},
	{"FT4", types.ModeFT4},
	{"CW", types.ModeCW},
	{"SSB", types.ModeSSB},
	{"USB", types.ModeSSB},
	{"LSB", types.ModeSSB},
	{"RTTY", types.ModeRTTY},
	{"PSK", types.ModePSK},
	{"FM", types.ModeFM},
	{"AM", types.ModeAM},
}

// IsSpotLine reports whether a line carries the announcement marker
func IsSpotLine(line string) bool {
	line = strings.TrimSpace(line)
	return len(line) >= len(SpotMarker) && strings.EqualFold(line[:len(SpotMarker)], SpotMarker)
}

// ParseSpot parses a raw cluster line into a spot. now is used when the
// line carries no time token.
func ParseSpot(raw string, now time.Time) (*types.Spot, error) {
	line := strings.TrimSpace(raw)

	m := spotPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, ErrNotSpot
	}

	freqKHz, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid frequency %q: %w", m[2], err)
	}
	if freqKHz <= 0 {
		return nil, fmt.Errorf("invalid frequency %q: must be positive", m[2])
	}

	spot := &types.Spot{
		Spotter: strings.ToUpper(m[1]),
		DXCall:  strings.ToUpper(m[3]),
		FreqKHz: freqKHz,
		Freq:    FormatMHz(freqKHz),
		Source:  types.SourceDXSpider,
	}

	comment, spotTime, ok := extractTime(strings.TrimSpace(m[4]))
	if !ok {
		spotTime = FormatTime(now)
	}
	spot.Comment = comment
	spot.Time = spotTime

	spot.Mode = ClassifyMode(comment)
	spot.SpotterGrid, spot.DXGrid = ExtractGrids(comment)

	return spot, nil
}

// FormatMHz renders a kHz frequency as MHz with three decimals
func FormatMHz(freqKHz float64) string {
	return strconv.FormatFloat(freqKHz/1000, 'f', 3, 64)
}

// FormatTime renders a wall-clock time the way spot times are shown
func FormatTime(t time.Time) string {
	return t.UTC().Format("15:04") + "z"
}

// extractTime strips a trailing HHMMZ token from text. The whitespace that
// separated the token from the comment goes with it; padding inside the
// comment is kept as received.
func extractTime(text string) (string, string, bool) {
	loc := timePattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, "", false
	}

	hh, _ := strconv.Atoi(text[loc[2]:loc[3]])
	mm, _ := strconv.Atoi(text[loc[4]:loc[5]])
	if hh > 23 || mm > 59 {
		return text, "", false
	}

	return strings.TrimSpace(text[:loc[0]]), fmt.Sprintf("%02d:%02dz", hh, mm), true
}

// ClassifyMode returns the first mode keyword found in text, case-insensitively
func ClassifyMode(text string) types.Mode {
	upper := strings.ToUpper(text)
	for _, k := range modeKeywords {
		if strings.Contains(upper, k.keyword) {
			return k.mode
		}
	}
	return types.ModeUnknown
}

// ExtractGrids returns the spotter and DX grid locators found in text.
// A dual locator such as "FN20<>EM79" yields both; otherwise a single
// locator is taken as the DX grid when its field letters are in A-R.
func ExtractGrids(text string) (spotterGrid, dxGrid string) {
	if m := dualGridPattern.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1]), strings.ToUpper(m[2])
	}

	m := singleGridPattern.FindStringSubmatch(text)
	if m == nil {
		return "", ""
	}

	grid := strings.ToUpper(m[1])
	if !isFieldLetter(grid[0]) || !isFieldLetter(grid[1]) {
		return "", ""
	}
	return "", grid
}

func isFieldLetter(c byte) bool {
	return c >= 'A' && c <= 'R'
}

// Parser wraps ParseSpot so that no failure ever reaches the ingest path
type Parser struct {
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a parser stamping untimed spots with the current UTC time
func New() *Parser {
	return &Parser{
		now:    time.Now,
		logger: log.WithComponent("parser"),
	}
}

// Parse returns the spot carried by line, or nil when the line is not a
// well-formed spot. Failures are logged together with the raw line.
func (p *Parser) Parse(line string) (spot *types.Spot) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn().Interface("panic", r).Str("line", line).Msg("Failed to parse spot line")
			spot = nil
		}
	}()

	spot, err := ParseSpot(line, p.now().UTC())
	if err != nil {
		p.logger.Debug().Err(err).Str("line", line).Msg("Rejected cluster line")
		return nil
	}
	return spot
}
