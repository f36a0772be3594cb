package synth

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavInfo is the decoded fmt chunk plus the data chunk of a RIFF/WAVE file.
type wavInfo struct {
	sampleRate    int
	channels      int
	bitsPerSample int
	pcm           []byte
}

// parseWAV walks the RIFF chunks and returns the PCM payload and format.
// Only 16-bit integer PCM is accepted.
func parseWAV(wav []byte) (wavInfo, error) {
	var info wavInfo
	if len(wav) < 12 {
		return info, errors.New("wav data too short")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return info, errors.New("not a valid WAV file")
	}

	var haveFmt bool
	pos := 12
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return info, errors.New("short fmt chunk")
			}
			tag := binary.LittleEndian.Uint16(wav[body:])
			info.channels = int(binary.LittleEndian.Uint16(wav[body+2:]))
			info.sampleRate = int(binary.LittleEndian.Uint32(wav[body+4:]))
			info.bitsPerSample = int(binary.LittleEndian.Uint16(wav[body+14:]))
			// 1 = integer PCM, 0xFFFE = extensible
			if tag != 1 && tag != 0xFFFE {
				return info, fmt.Errorf("unsupported wav format tag %#x", tag)
			}
			if info.bitsPerSample != 16 {
				return info, fmt.Errorf("unsupported wav bit depth %d", info.bitsPerSample)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return info, errors.New("data chunk before fmt chunk")
			}
			end := min(body+size, len(wav))
			info.pcm = wav[body:end]
			return info, nil
		}

		pos = body + size
		// Chunks are word-aligned.
		if size%2 != 0 {
			pos++
		}
	}
	return info, errors.New("data chunk not found in WAV")
}
