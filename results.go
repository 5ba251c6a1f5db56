package skforecast

// Results holds a forecast with its estimated interval bounds. Lower and Upper are only set
// by interval predictions.
type Results struct {
	Pred  []float64 `json:"pred"`
	Lower []float64 `json:"lower_bound,omitempty"`
	Upper []float64 `json:"upper_bound,omitempty"`
}
