// Package alsa talks to ALSA PCM playback devices directly through
// /dev/snd ioctls, with no cgo and no libasound dependency. It exposes
// just enough surface for a byte-oriented audio sink: open, configure
// with nearest-match negotiation, interleaved writes, free-space
// queries, and pause/resume.
package alsa

// DefaultDevice is the first playback device of the first card.
const DefaultDevice = "hw:0,0"

// FormatALSADevice creates an ALSA device string from card and device
// numbers.
func FormatALSADevice(cardNum, deviceNum int) string {
	return "hw:" + itoa(cardNum) + "," + itoa(deviceNum)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	pos := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		b[pos] = '-'
	}
	return string(b[pos:])
}
