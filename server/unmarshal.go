package server

import (
	"fmt"
	"slices"
	"strconv"
)

// unmarshalPointsListFast parses a JSON array of [lat, lon] pairs without
// going through encoding/json; batch bodies run to megabytes and this path
// is hot. Only the shape [[f,f],...] is accepted.
func unmarshalPointsListFast(data []byte, result *[][2]float64) error {
	i := 0
	n := len(data)

	*result = slices.Grow(*result, n/16) // n/16 is a heuristic

	i = skipSpace(data, i)
	if i >= n || data[i] != '[' {
		return fmt.Errorf("invalid format: expected '['")
	}
	i++

	for i < n {
		i = skipSpace(data, i)
		if i < n && data[i] == ']' {
			break
		}

		var point [2]float64
		var err error
		i, err = parsePoint(data, i, &point)
		if err != nil {
			return err
		}
		*result = append(*result, point)

		i = skipSpace(data, i)
		if i < n && data[i] == ',' {
			i++
			continue
		}
		if i < n && data[i] == ']' {
			break
		}
	}

	return nil
}

func parsePoint(data []byte, i int, point *[2]float64) (int, error) {
	n := len(data)
	if i >= n || data[i] != '[' {
		return i, fmt.Errorf("invalid format: expected '[' for point")
	}
	i++

	for j := 0; j < 2; j++ {
		i = skipSpace(data, i)
		start := i
		for i < n && isNumberByte(data[i]) {
			i++
		}
		if start == i {
			point[j] = 0
		} else {
			num, err := strconv.ParseFloat(string(data[start:i]), 64)
			if err != nil {
				return i, fmt.Errorf("invalid number: %v", err)
			}
			point[j] = num
		}
		i = skipSpace(data, i)
		if j < 1 {
			if i >= n || data[i] != ',' {
				return i, fmt.Errorf("invalid format: expected ',' between coordinates")
			}
			i++
		}
	}

	for i < n && data[i] != ']' {
		i++
	}
	if i >= n {
		return i, fmt.Errorf("invalid format: expected ']' at end of point")
	}
	return i + 1, nil
}

func skipSpace(data []byte, i int) int {
	for i < len(data) && (data[i] == ' ' || data[i] == '\n' || data[i] == '\t' || data[i] == '\r') {
		i++
	}
	return i
}

func isNumberByte(b byte) bool {
	return (b >= '0' && b <= '9') || b == '-' || b == '+' || b == '.' || b == 'e' || b == 'E'
}
