// Package environment derives apparent temperature and a short range
// forecast from raw readings.
package environment

import "math"

// Heat index categories
const (
	CategorySafe           = "SEGURO"
	CategoryCaution        = "PRECAUCIÓN"
	CategoryExtremeCaution = "PRECAUCIÓN EXTREMA"
	CategoryDanger         = "PELIGRO"
	CategoryExtremeDanger  = "PELIGRO EXTREMO"
	CategoryBeyondHuman    = "MÁS ALLÁ DEL UMBRAL HUMANO"
)

// HeatIndexResult is the heat index in °C with its health band
type HeatIndexResult struct {
	Value       float64 `json:"value"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
}

type band struct {
	upper       float64 // exclusive, except for the last bounded band
	category    string
	description string
}

var bands = []band{
	{27, CategorySafe, "No se esperan efectos adversos debidos al calor."},
	{33, CategoryCaution, "Fatiga posible con exposición prolongada y/o actividad física."},
	{41, CategoryExtremeCaution, "Posible golpe de calor, calambres o agotamiento por calor con exposición prolongada y/o actividad física."},
	{52, CategoryDanger, "Calambres o agotamiento por calor probables y golpe de calor posible con exposición prolongada y/o actividad física."},
}

const (
	extremeDangerMax = 92.0
	extremeDangerMsg = "Golpe de calor altamente probable."
	beyondHumanMsg   = "Valores más allá de la resistencia humana al calor."
)

// HeatIndex applies the NWS Rothfusz regression to a Celsius temperature
// and relative humidity. The value is rounded to one decimal before it is
// classified.
func HeatIndex(tempC, humidity float64) HeatIndexResult {
	t := tempC*9/5 + 32
	r := humidity

	hiF := -42.379 +
		2.04901523*t +
		10.14333127*r -
		0.22475541*t*r -
		0.00683783*t*t -
		0.05481717*r*r +
		0.00122874*t*t*r +
		0.00085282*t*r*r -
		0.00000199*t*t*r*r

	value := roundTo((hiF-32)*5/9, 10)
	category, description := Classify(value)
	return HeatIndexResult{Value: value, Category: category, Description: description}
}

// Classify maps a heat index in °C to its band
func Classify(value float64) (category, description string) {
	for _, b := range bands {
		if value < b.upper {
			return b.category, b.description
		}
	}
	if value <= extremeDangerMax {
		return CategoryExtremeDanger, extremeDangerMsg
	}
	return CategoryBeyondHuman, beyondHumanMsg
}

// roundTo rounds v to 1/scale with halves going up
func roundTo(v, scale float64) float64 {
	return math.Floor(v*scale+0.5) / scale
}
