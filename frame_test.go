package mwbridge

import (
	"errors"
	"reflect"
	"testing"
)

func TestCanVector(t *testing.T) {
	cases := []struct {
		name       string
		n          int
		totalBytes int
		maxPairs   int
		want       bool
	}{
		{"single pair never vectors", 1, 10, maxVectoredReadPairs, false},
		{"two pairs within budget vectors", 2, 10, maxVectoredReadPairs, true},
		{"at read pair cap vectors", maxVectoredReadPairs, 255, maxVectoredReadPairs, true},
		{"over read pair cap does not vector", maxVectoredReadPairs + 1, 100, maxVectoredReadPairs, false},
		{"at write pair cap vectors", maxVectoredWritePairs, 255, maxVectoredWritePairs, true},
		{"over write pair cap does not vector", maxVectoredWritePairs + 1, 100, maxVectoredWritePairs, false},
		{"total at 256 does not vector", 2, 256, maxVectoredReadPairs, false},
		{"total at 255 vectors", 2, 255, maxVectoredReadPairs, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := canVector(tc.n, tc.totalBytes, tc.maxPairs); got != tc.want {
				t.Errorf("canVector(%d, %d, %d) = %v, want %v", tc.n, tc.totalBytes, tc.maxPairs, got, tc.want)
			}
		})
	}
}

func TestHexOperandsUppercaseNoPrefix(t *testing.T) {
	regions := []AddrSize{{Address: 0xF50010, Size: 0x1A}}
	got := hexOperands(regions)
	want := []string{"F50010", "1A"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("hexOperands(%v) = %v, want %v", regions, got, want)
	}
}

func TestSplitBinaryBuffersRoundTrip(t *testing.T) {
	regions := []AddrSize{{Address: 1, Size: 2}, {Address: 2, Size: 3}}
	data := []byte{0xAA, 0xBB, 0x01, 0x02, 0x03}
	bufs, err := splitBinaryBuffers(data, regions)
	if err != nil {
		t.Fatalf("splitBinaryBuffers: %v", err)
	}
	want := [][]byte{{0xAA, 0xBB}, {0x01, 0x02, 0x03}}
	if !reflect.DeepEqual(bufs, want) {
		t.Errorf("splitBinaryBuffers = %v, want %v", bufs, want)
	}
}

func TestSplitBinaryBuffersLengthMismatch(t *testing.T) {
	regions := []AddrSize{{Address: 1, Size: 4}}
	_, err := splitBinaryBuffers([]byte{0x01, 0x02}, regions)
	if err == nil {
		t.Fatal("expected error on length mismatch, got nil")
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Errorf("expected *ProtocolError, got %T: %v", err, err)
	}
}
