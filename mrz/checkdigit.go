package mrz

import "fmt"

const Filler = '<'

var checkWeights = [3]int{7, 3, 1}

// charValue maps an MRZ character to its check digit value:
// digits count as themselves, letters A-Z as 10-35 and the filler as 0.
func charValue(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10, true
	case c == Filler:
		return 0, true
	default:
		return 0, false
	}
}

// ComputeCheckDigit returns the ICAO 9303 check digit of data using the
// repeating 7-3-1 weights.
func ComputeCheckDigit(data string) (byte, error) {
	sum := 0
	for i := 0; i < len(data); i++ {
		v, ok := charValue(data[i])
		if !ok {
			return 0, fmt.Errorf("invalid MRZ character %q at position %d", data[i], i)
		}
		sum += v * checkWeights[i%3]
	}
	return byte('0' + sum%10), nil
}

// VerifyCheckDigit reports whether check is the check digit of data.
// Anything but a digit in check is a mismatch.
func VerifyCheckDigit(data string, check byte) bool {
	if check < '0' || check > '9' {
		return false
	}
	want, err := ComputeCheckDigit(data)
	if err != nil {
		return false
	}
	return want == check
}

// checkOutcome is the validation state of a single check digit.
type checkOutcome int

const (
	checkValid checkOutcome = iota
	checkInvalid
	checkSkipped
)

func evaluateCheck(data string, check byte, fillerAllowed bool) checkOutcome {
	if check == Filler && fillerAllowed {
		return checkSkipped
	}
	if VerifyCheckDigit(data, check) {
		return checkValid
	}
	return checkInvalid
}
