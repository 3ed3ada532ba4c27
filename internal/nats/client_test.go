package nats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/saviobatista/dxcluster-proxy/internal/types"
)

func TestNew_Unit_URLs(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "invalid scheme", url: "invalid://url:12345"},
		{name: "malformed URL", url: "not-a-url"},
		{name: "closed port", url: "nats://127.0.0.1:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.url, time.Hour)
			if err == nil {
				client.Close()
				t.Fatal("Expected error, got none")
			}
			if client != nil {
				t.Error("Expected nil client on error")
			}
		})
	}
}

func TestClient_Close_Unit_NilSafety(t *testing.T) {
	client := &Client{conn: nil}
	client.Close()
}

func TestClient_Name_Unit(t *testing.T) {
	client := &Client{}
	if client.Name() != "nats" {
		t.Errorf("Expected sink name 'nats', got %s", client.Name())
	}
}

func TestConstants_Unit(t *testing.T) {
	if SubjectSpots != "dxcluster.spots" {
		t.Errorf("Expected SubjectSpots to be 'dxcluster.spots', got %s", SubjectSpots)
	}
	if StreamSpots != "DX_SPOTS" {
		t.Errorf("Expected StreamSpots to be 'DX_SPOTS', got %s", StreamSpots)
	}
}

func TestSpotPayload_Unit(t *testing.T) {
	spot := types.Spot{
		Spotter:   "W3ABC",
		DXCall:    "JA1XYZ",
		FreqKHz:   14025.0,
		Freq:      "14.025",
		Mode:      types.ModeCW,
		Comment:   "CW",
		Time:      "12:34z",
		Timestamp: 1760000000000,
		Source:    types.SourceDXSpider,
	}

	data, err := json.Marshal(spot)
	if err != nil {
		t.Fatalf("Failed to marshal spot: %v", err)
	}

	var decoded types.Spot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal spot: %v", err)
	}
	if decoded != spot {
		t.Errorf("Spot changed in transit: got %+v, want %+v", decoded, spot)
	}
}
