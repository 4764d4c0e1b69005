package advisor

import (
	"bathguard/internal/models"
	"bathguard/internal/psychro"
	"fmt"
)

const (
	MinBeneficialDiff   = 2.0 // g/m³
	FrostCapMinutes     = 3
	FogOutdoorHumidity  = 80.0
	frostOutdoorTempMax = 0.0
)

// VentilationAdvisor decides whether opening a window removes moisture
type VentilationAdvisor struct{}

// NewVentilationAdvisor creates a new ventilation advisor
func NewVentilationAdvisor() *VentilationAdvisor {
	return &VentilationAdvisor{}
}

// Recommend compares indoor and outdoor absolute humidity
func (v *VentilationAdvisor) Recommend(indoorTemp, indoorHumidity, outdoorTemp, outdoorHumidity float64) (*models.VentilationRecommendation, error) {
	indoorAbs, err := psychro.AbsoluteHumidity(indoorTemp, indoorHumidity)
	if err != nil {
		return nil, fmt.Errorf("indoor absolute humidity: %w", err)
	}
	outdoorAbs, err := psychro.AbsoluteHumidity(outdoorTemp, outdoorHumidity)
	if err != nil {
		return nil, fmt.Errorf("outdoor absolute humidity: %w", err)
	}

	indoorAbs = psychro.Round(indoorAbs)
	outdoorAbs = psychro.Round(outdoorAbs)
	diff := psychro.Round(indoorAbs - outdoorAbs)

	rec := &models.VentilationRecommendation{
		IndoorAbsoluteHumidity:  indoorAbs,
		OutdoorAbsoluteHumidity: outdoorAbs,
		AbsHumidityDiff:         diff,
		Warnings:                []string{},
	}

	rec.IsBeneficial, rec.RecommendedDurationMinutes, rec.Reason = durationForDiff(diff)

	if outdoorHumidity > FogOutdoorHumidity {
		rec.IsBeneficial = false
		rec.RecommendedDurationMinutes = 0
		rec.Reason = "outdoor air is saturated"
		rec.Warnings = append(rec.Warnings,
			fmt.Sprintf("Outdoor humidity %.0f%% above %.0f%% (rain or fog): keep windows closed", outdoorHumidity, FogOutdoorHumidity))
	}

	if outdoorTemp < frostOutdoorTempMax && rec.IsBeneficial {
		if rec.RecommendedDurationMinutes > FrostCapMinutes {
			rec.RecommendedDurationMinutes = FrostCapMinutes
		}
		rec.Warnings = append(rec.Warnings,
			fmt.Sprintf("Outdoor temperature %.1f°C below freezing: ventilate at most %d minutes", outdoorTemp, FrostCapMinutes))
	}

	return rec, nil
}

func durationForDiff(diff float64) (bool, int, string) {
	switch {
	case diff <= 0:
		return false, 0, "outdoor air holds more moisture than indoor air"
	case diff < MinBeneficialDiff:
		return false, 0, "moisture difference too small to be worth ventilating"
	case diff < 4.0:
		return true, 3, "outdoor air is drier"
	case diff < 6.0:
		return true, 5, "outdoor air is noticeably drier"
	default:
		return true, 10, "outdoor air is much drier"
	}
}

// Prioritize combines ventilation benefit with mold risk. risk may be nil when
// room readings are unavailable.
func Prioritize(rec *models.VentilationRecommendation, risk *models.RiskAssessment) models.VentilationPriority {
	beneficial := rec != nil && rec.IsBeneficial
	alert := risk != nil && risk.AlertRequired

	switch {
	case beneficial && alert:
		return models.VentilationPriority{
			Priority: models.PriorityHigh,
			Action:   fmt.Sprintf("Open the window for %d minutes now", rec.RecommendedDurationMinutes),
		}
	case beneficial:
		return models.VentilationPriority{
			Priority: models.PriorityMedium,
			Action:   fmt.Sprintf("Open the window for %d minutes", rec.RecommendedDurationMinutes),
		}
	case alert:
		return models.VentilationPriority{
			Priority: models.PriorityHigh,
			Action:   "Keep windows closed and run the dehumidifier",
		}
	default:
		return models.VentilationPriority{
			Priority: models.PriorityLow,
			Action:   "No ventilation needed",
		}
	}
}
