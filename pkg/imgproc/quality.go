package imgproc

import "encoding/binary"

// stdLuminance is the IJG reference luminance quantization table that
// encoders scale to reach a target quality.
var stdLuminance = [64]int{
	16, 11, 10, 16, 24, 40, 51, 61,
	12, 12, 14, 19, 26, 58, 60, 55,
	14, 13, 16, 24, 40, 57, 69, 56,
	14, 17, 22, 29, 51, 87, 80, 62,
	18, 22, 37, 56, 68, 109, 103, 77,
	24, 35, 55, 64, 81, 104, 113, 92,
	49, 64, 78, 87, 103, 121, 120, 101,
	72, 92, 95, 98, 112, 100, 103, 99,
}

var stdLuminanceSum = func() int {
	sum := 0
	for _, v := range stdLuminance {
		sum += v
	}
	return sum
}()

// EstimateJPEGQuality returns the IJG quality (1-100) the luminance table of
// a baseline JPEG corresponds to, or 0 when no table can be found.
func EstimateJPEGQuality(data []byte) int {
	table := luminanceTable(data)
	if table == nil {
		return 0
	}
	sum := 0
	for _, v := range table {
		sum += v
	}
	// encoders compute table = (std*scale + 50) / 100
	scale := float64(sum*100) / float64(stdLuminanceSum)
	var q float64
	if scale <= 100 {
		q = (200 - scale) / 2
	} else {
		q = 5000 / scale
	}
	quality := int(q + 0.5)
	return min(max(quality, 1), 100)
}

// luminanceTable walks the marker segments up to the first scan and returns
// the quantization table with destination id 0.
func luminanceTable(data []byte) []int {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil
	}
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return nil
		}
		marker := data[pos+1]
		if marker == 0xFF {
			pos++
			continue
		}
		if marker == 0xDA || marker == 0xD9 {
			return nil
		}
		length := int(binary.BigEndian.Uint16(data[pos+2:]))
		end := pos + 2 + length
		if length < 2 || end > len(data) {
			return nil
		}
		if marker == 0xDB {
			if table := parseDQT(data[pos+4 : end]); table != nil {
				return table
			}
		}
		pos = end
	}
	return nil
}

func parseDQT(seg []byte) []int {
	for len(seg) > 0 {
		precision, id := seg[0]>>4, seg[0]&0x0F
		size := 64
		if precision == 1 {
			size = 128
		}
		if len(seg) < 1+size {
			return nil
		}
		values := seg[1 : 1+size]
		if id == 0 {
			table := make([]int, 64)
			for i := range table {
				if precision == 1 {
					table[i] = int(binary.BigEndian.Uint16(values[i*2:]))
				} else {
					table[i] = int(values[i])
				}
			}
			return table
		}
		seg = seg[1+size:]
	}
	return nil
}
