package types

import (
	"fmt"
	"net"
	"strconv"
)

// SourceDXSpider tags spots produced by the DX cluster proxy
const SourceDXSpider = "DX Spider"

// Mode represents an operating mode classified from a spot comment
type Mode string

const (
	ModeCW      Mode = "CW"
	ModeSSB     Mode = "SSB"
	ModeFT8     Mode = "FT8"
	ModeFT4     Mode = "FT4"
	ModeRTTY    Mode = "RTTY"
	ModePSK     Mode = "PSK"
	ModeFM      Mode = "FM"
	ModeAM      Mode = "AM"
	ModeUnknown Mode = ""
)

// Node is one candidate DX cluster server
type Node struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Label string `json:"label"`
}

// Addr returns the dialable host:port of the node
func (n Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

func (n Node) String() string {
	return fmt.Sprintf("%s (%s)", n.Label, n.Addr())
}

// Spot represents a normalized DX spot
type Spot struct {
	Spotter     string  `json:"spotter"`
	SpotterGrid string  `json:"spotterGrid,omitempty"`
	DXCall      string  `json:"dxCall"`
	DXGrid      string  `json:"dxGrid,omitempty"`
	FreqKHz     float64 `json:"freqKhz"`
	Freq        string  `json:"freq"`
	Mode        Mode    `json:"mode,omitempty"`
	Comment     string  `json:"comment"`
	Time        string  `json:"time"`
	Timestamp   int64   `json:"timestamp"`
	Source      string  `json:"source"`
}

// CompactSpot is the simplified spot shape served to legacy dashboard clients
type CompactSpot struct {
	Spotter     string `json:"spotter"`
	Freq        string `json:"freq"`
	Call        string `json:"call"`
	Comment     string `json:"comment"`
	Time        string `json:"time"`
	Mode        Mode   `json:"mode,omitempty"`
	SpotterGrid string `json:"spotterGrid,omitempty"`
	DXGrid      string `json:"dxGrid,omitempty"`
}

// Compact converts the spot to its simplified shape
func (s Spot) Compact() CompactSpot {
	return CompactSpot{
		Spotter:     s.Spotter,
		Freq:        s.Freq,
		Call:        s.DXCall,
		Comment:     s.Comment,
		Time:        s.Time,
		Mode:        s.Mode,
		SpotterGrid: s.SpotterGrid,
		DXGrid:      s.DXGrid,
	}
}
