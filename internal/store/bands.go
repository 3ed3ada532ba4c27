package store

// BandOther collects spots outside every known band
const BandOther = "other"

type bandRange struct {
	name   string
	lowKHz float64
	hiKHz  float64
}

// bands lists amateur allocations plus the 11m citizens band, ordered by frequency
var bands = []bandRange{
	{"160m", 1800, 2000},
	{"80m", 3500, 4000},
	{"60m", 5330, 5410},
	{"40m", 7000, 7300},
	{"30m", 10100, 10150},
	{"20m", 14000, 14350},
	{"17m", 18068, 18168},
	{"15m", 21000, 21450},
	{"12m", 24890, 24990},
	{"11m", 26965, 27405},
	{"10m", 28000, 29700},
	{"6m", 50000, 54000},
}

// Band classifies a frequency in kHz, returning BandOther when no band matches
func Band(freqKHz float64) string {
	for _, b := range bands {
		if freqKHz >= b.lowKHz && freqKHz <= b.hiKHz {
			return b.name
		}
	}
	return BandOther
}
