package egg273a

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// parseCurrent decodes a READI reply. The 273A reports current as a
// mantissa and a base-ten exponent, e.g. "10,-2" for 0.1A.
func parseCurrent(data string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(data), ",")
	if len(parts) != 2 {
		return 0, errors.New("invalid number of elements")
	}
	mant, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, err
	}
	exp, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, err
	}
	return mant * math.Pow(10, exp), nil
}

// parsePotential decodes a READE reply, in millivolts.
func parsePotential(data string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(data), 64)
}
