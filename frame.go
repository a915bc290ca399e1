package mwbridge

import "fmt"

// usb2snesRequest is a USB2SNES control request (§4.C): a JSON object with an
// Opcode, a Space (always "SNES" at this layer), and optional Flags/Operands.
type usb2snesRequest struct {
	Opcode   string   `json:"Opcode"`
	Space    string   `json:"Space"`
	Flags    []string `json:"Flags,omitempty"`
	Operands []string `json:"Operands,omitempty"`
}

// usb2snesResponse is the text-frame response shape: {"Results": [...]}.
type usb2snesResponse struct {
	Results []string `json:"Results"`
}

// USB2SNES opcodes used by this core.
const (
	opcodeDeviceList  = "DeviceList"
	opcodeAttach      = "Attach"
	opcodeInfo        = "Info"
	opcodeAppVersion  = "AppVersion"
	opcodeGetAddress  = "GetAddress"
	opcodePutAddress  = "PutAddress"
)

const spaceSNES = "SNES"

// Vectored Get/Put packing limits (§4.C): 16 read pairs, 8 write pairs, and a
// total payload strictly under 256 bytes per command.
const (
	maxVectoredReadPairs  = 16
	maxVectoredWritePairs = 8
	maxVectoredTotalBytes = 256 // total must be strictly less than this
)

// canVector reports whether n (address,size) pairs with the given total byte
// count may be carried in a single vectored Get/Put command.
func canVector(n, totalBytes, maxPairs int) bool {
	return n >= 2 && n <= maxPairs && totalBytes < maxVectoredTotalBytes
}

// hexOperands renders a flat sequence of (address,size) pairs as uppercase
// hex strings with no "0x" prefix, the operand format GetAddress/PutAddress
// expect.
func hexOperands(regions []AddrSize) []string {
	ops := make([]string, 0, len(regions)*2)
	for _, r := range regions {
		ops = append(ops, fmt.Sprintf("%X", r.Address), fmt.Sprintf("%X", r.Size))
	}
	return ops
}

func newGetAddressRequest(regions []AddrSize) usb2snesRequest {
	return usb2snesRequest{Opcode: opcodeGetAddress, Space: spaceSNES, Operands: hexOperands(regions)}
}

func newPutAddressRequest(regions []AddrSize) usb2snesRequest {
	return usb2snesRequest{Opcode: opcodePutAddress, Space: spaceSNES, Operands: hexOperands(regions)}
}

// splitBinaryBuffers slices a concatenated binary response into per-region
// buffers matching regions, in order.
func splitBinaryBuffers(data []byte, regions []AddrSize) ([][]byte, error) {
	total := 0
	for _, r := range regions {
		total += r.Size
	}
	if len(data) != total {
		return nil, NewProtocolError(fmt.Sprintf("binary response length %d, expected %d", len(data), total))
	}
	bufs := make([][]byte, len(regions))
	off := 0
	for i, r := range regions {
		bufs[i] = data[off : off+r.Size]
		off += r.Size
	}
	return bufs, nil
}
