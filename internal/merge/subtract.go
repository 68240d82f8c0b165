package merge

// DefaultThreshold is the absolute difference above which a pixel counts as
// motion.
const DefaultThreshold = 15

// Subtract writes the motion mask of combined against reference into dst:
// 255 where |combined-reference| > threshold, else 0. It returns the number
// of motion pixels. All three buffers must have the same length.
func Subtract(dst, combined, reference []byte, threshold uint8) int {
	on := 0
	for i, c := range combined[:len(dst)] {
		r := reference[i]
		var d byte
		if c > r {
			d = c - r
		} else {
			d = r - c
		}
		if d > threshold {
			dst[i] = 255
			on++
		} else {
			dst[i] = 0
		}
	}
	return on
}

// Stack copies top and bottom into dst, top rows first.
func Stack(dst, top, bottom []byte) {
	n := copy(dst, top)
	copy(dst[n:], bottom)
}
