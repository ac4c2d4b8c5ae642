package domain

// FeatureVector is an ordered, fixed-length numeric encoding of a transaction.
// Names and Values have the same length and the order is part of the contract
// with downstream models.
type FeatureVector struct {
	Profile string    `json:"profile"`
	Names   []string  `json:"names"`
	Values  []float64 `json:"values"`
}

// Len returns the number of features.
func (v FeatureVector) Len() int { return len(v.Values) }

// Get returns the value of the named feature.
func (v FeatureVector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

// Map returns the vector as a name to value map.
func (v FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, len(v.Names))
	for i, n := range v.Names {
		m[n] = v.Values[i]
	}
	return m
}
