package advisor

import (
	"bathguard/internal/models"
	"bathguard/internal/psychro"
	"fmt"
	"math"
)

const (
	// DefaultSurfaceOffset models an exterior wall running colder than room air
	DefaultSurfaceOffset = 5.0

	WarningThreshold  = 65.0
	CriticalThreshold = 75.0
	OptimalMin        = 50.0
	DryMin            = 30.0

	ColdRoomTemperature = 18.0
	AlertScore          = 0.5
)

// recommendations are looked up, never generated, so output stays deterministic
var (
	humidityAdvice = map[models.HumidityLevel][]string{
		models.HumidityCritical: {
			"Humidity is critical: run the dehumidifier now",
			"Keep the bathroom door closed until humidity drops",
		},
		models.HumidityWarning: {
			"Humidity is elevated: ventilate or run the dehumidifier",
		},
		models.HumidityOptimal: {},
		models.HumidityLow:     {},
		models.HumidityTooDry: {
			"Air is very dry: stop dehumidifying",
		},
	}

	riskAdvice = map[models.RiskLevel][]string{
		models.RiskCritical: {
			"Condensation is forming on cold surfaces: wipe down walls and windows",
			"Raise the surface temperature by heating the room",
		},
		models.RiskHigh: {
			"Surfaces are within 2°C of the dewpoint: lower humidity before condensation starts",
		},
		models.RiskMedium: {
			"Watch exterior walls and window frames for condensation",
		},
		models.RiskLow: {},
	}

	coldAdvice = []string{
		"Room is below 18°C: raise heating to keep surfaces above the dewpoint",
	}
)

// MoldRiskAssessor classifies condensation and mold risk from room readings
type MoldRiskAssessor struct {
	surfaceOffset float64
}

// NewMoldRiskAssessor creates an assessor that assumes surfaces 5°C below room air
func NewMoldRiskAssessor() *MoldRiskAssessor {
	return &MoldRiskAssessor{
		surfaceOffset: DefaultSurfaceOffset,
	}
}

// Assess computes the risk for the given room temperature and humidity.
// surfaceTemp may be nil, in which case an exterior wall is assumed.
func (m *MoldRiskAssessor) Assess(temp, humidity float64, surfaceTemp *float64) (*models.RiskAssessment, error) {
	dewpoint, err := psychro.Dewpoint(temp, humidity)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dewpoint: %w", err)
	}
	absHumidity, err := psychro.AbsoluteHumidity(temp, humidity)
	if err != nil {
		return nil, fmt.Errorf("failed to compute absolute humidity: %w", err)
	}

	surface := temp - m.surfaceOffset
	if surfaceTemp != nil {
		if math.IsNaN(*surfaceTemp) || math.IsInf(*surfaceTemp, 0) {
			return nil, fmt.Errorf("surface temperature %v: %w", *surfaceTemp, psychro.ErrInvalidTemperature)
		}
		surface = *surfaceTemp
	}

	dewpoint = psychro.Round(dewpoint)
	margin := psychro.Round(surface - dewpoint)
	level, score := ClassifyMargin(margin)
	humidityLevel := ClassifyHumidity(humidity)

	return &models.RiskAssessment{
		Temperature:          temp,
		Humidity:             humidity,
		SurfaceTemperature:   psychro.Round(surface),
		Dewpoint:             dewpoint,
		AbsoluteHumidity:     psychro.Round(absHumidity),
		DewpointMargin:       margin,
		RiskLevel:            level,
		RiskScore:            score,
		HumidityLevel:        humidityLevel,
		CondensationPossible: margin <= 0,
		AlertRequired:        humidity >= WarningThreshold || score >= AlertScore,
		Recommendations:      Recommendations(humidityLevel, level, temp < ColdRoomTemperature),
	}, nil
}

// ClassifyMargin maps surface-minus-dewpoint to a risk level and score
func ClassifyMargin(margin float64) (models.RiskLevel, float64) {
	switch {
	case margin <= 0:
		return models.RiskCritical, 1.0
	case margin <= 2.0:
		return models.RiskHigh, 0.8
	case margin <= 4.0:
		return models.RiskMedium, 0.5
	default:
		return models.RiskLow, 0.2
	}
}

// ClassifyHumidity returns the relative humidity band used for user messaging
func ClassifyHumidity(humidity float64) models.HumidityLevel {
	switch {
	case humidity >= CriticalThreshold:
		return models.HumidityCritical
	case humidity >= WarningThreshold:
		return models.HumidityWarning
	case humidity >= OptimalMin:
		return models.HumidityOptimal
	case humidity >= DryMin:
		return models.HumidityLow
	default:
		return models.HumidityTooDry
	}
}

// Recommendations returns the fixed advice for a humidity band, risk level and cold flag
func Recommendations(band models.HumidityLevel, level models.RiskLevel, cold bool) []string {
	recs := make([]string, 0, 4)
	recs = append(recs, humidityAdvice[band]...)
	recs = append(recs, riskAdvice[level]...)
	if cold {
		recs = append(recs, coldAdvice...)
	}
	if len(recs) == 0 {
		recs = append(recs, "No action needed")
	}
	return recs
}
