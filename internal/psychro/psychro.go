package psychro

import (
	"errors"
	"math"
)

// Magnus coefficients for dewpoint
const (
	magnusA = 17.27
	magnusB = 237.7
)

// Saturation vapor pressure coefficients (hPa, over water)
const (
	svpBase  = 6.112
	svpA     = 17.62
	svpB     = 243.12
	absConst = 2.16679
	kelvin   = 273.15
)

var (
	ErrInvalidHumidity    = errors.New("relative humidity out of range")
	ErrInvalidTemperature = errors.New("temperature out of range")
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Dewpoint returns the dewpoint in °C for air at tempC with relHumidity percent.
func Dewpoint(tempC, relHumidity float64) (float64, error) {
	if !finite(relHumidity) || relHumidity <= 0 || relHumidity > 100 {
		return math.NaN(), ErrInvalidHumidity
	}
	if !finite(tempC) || tempC <= -magnusB {
		return math.NaN(), ErrInvalidTemperature
	}

	alpha := (magnusA*tempC)/(magnusB+tempC) + math.Log(relHumidity/100)
	return (magnusB * alpha) / (magnusA - alpha), nil
}

// AbsoluteHumidity returns the water vapor density in g/m³.
func AbsoluteHumidity(tempC, relHumidity float64) (float64, error) {
	if !finite(relHumidity) || relHumidity < 0 || relHumidity > 100 {
		return math.NaN(), ErrInvalidHumidity
	}
	if !finite(tempC) || tempC <= -kelvin {
		return math.NaN(), ErrInvalidTemperature
	}

	vaporPressure := SaturationVaporPressure(tempC) * relHumidity / 100 // hPa
	return absConst * (vaporPressure * 100) / (kelvin + tempC), nil
}

// SaturationVaporPressure in hPa
func SaturationVaporPressure(tempC float64) float64 {
	return svpBase * math.Exp(svpA*tempC/(svpB+tempC))
}

// Round rounds to two decimals, the precision every comparison in this module uses
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}
