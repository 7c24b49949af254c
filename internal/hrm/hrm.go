// Package hrm decodes Heart Rate Measurement (0x2A37) payloads for logging.
// The relay forwards payloads untouched; nothing here feeds back into them.
package hrm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Flag bits of the first payload byte.
const (
	flagUint16        = 1 << 0
	flagContactStatus = 1 << 1 // bits 1-2: sensor contact
	flagContactOK     = 1 << 2
	flagEnergy        = 1 << 3
	flagRR            = 1 << 4
)

// ErrShort is returned when the payload ends before a declared field.
var ErrShort = errors.New("hrm: payload too short")

// Measurement is a decoded Heart Rate Measurement.
type Measurement struct {
	BPM int
	// Contact is nil when the sensor does not report contact status.
	Contact        *bool
	EnergyExpended *uint16 // kJ
	RRIntervals    []time.Duration
}

// Decode parses a Heart Rate Measurement payload.
func Decode(p []byte) (Measurement, error) {
	var m Measurement
	if len(p) < 2 {
		return m, ErrShort
	}
	flags := p[0]
	i := 1

	if flags&flagUint16 != 0 {
		if len(p) < i+2 {
			return m, fmt.Errorf("%w: 16-bit value", ErrShort)
		}
		m.BPM = int(binary.LittleEndian.Uint16(p[i:]))
		i += 2
	} else {
		m.BPM = int(p[i])
		i++
	}

	if flags&flagContactStatus != 0 {
		ok := flags&flagContactOK != 0
		m.Contact = &ok
	}

	if flags&flagEnergy != 0 {
		if len(p) < i+2 {
			return m, fmt.Errorf("%w: energy expended", ErrShort)
		}
		e := binary.LittleEndian.Uint16(p[i:])
		m.EnergyExpended = &e
		i += 2
	}

	if flags&flagRR != 0 {
		for ; i+1 < len(p); i += 2 {
			// RR intervals are in 1/1024 s.
			rr := binary.LittleEndian.Uint16(p[i:])
			m.RRIntervals = append(m.RRIntervals, time.Duration(rr)*time.Second/1024)
		}
	}
	return m, nil
}
