package fief

// ACR is an Authentication Context Class Reference claim value.  It's a
// closed enumeration ordered by acrLevelOrder, not a numeric scale.
type ACR string

const (
	// ACRLevelZero means no fresh authentication was performed, a
	// previous session was used.
	ACRLevelZero ACR = "0"

	// ACRLevelOne means password authentication was performed.
	ACRLevelOne ACR = "1"
)

var acrLevelOrder = []ACR{ACRLevelZero, ACRLevelOne}

// Valid reports whether a is a known ACR level.
func (a ACR) Valid() bool {
	return acrIndex(a) >= 0
}

// compareACR orders two ACR values by their position in acrLevelOrder.
// Unknown values sort before every known level.
func compareACR(a, b ACR) int {
	return acrIndex(a) - acrIndex(b)
}

func acrIndex(a ACR) int {
	for i, v := range acrLevelOrder {
		if v == a {
			return i
		}
	}
	return -1
}
