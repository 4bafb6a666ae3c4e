package config

import "github.com/safesim/simdash/internal/model"

// ConfigurationInfo describes a SAFe configuration offered by the setup form
type ConfigurationInfo struct {
	ID          model.Configuration
	Name        string
	Description string
}

// AvailableConfigurations returns the configurations a simulation can be
// initialized with, in the order the setup form lists them.
func AvailableConfigurations() []ConfigurationInfo {
	return []ConfigurationInfo{
		{
			ID:          model.ConfigEssential,
			Name:        model.ConfigEssential.Title(),
			Description: "One Agile Release Train",
		},
		{
			ID:          model.ConfigLargeSolution,
			Name:        model.ConfigLargeSolution.Title(),
			Description: "Multiple ARTs building one large solution",
		},
		{
			ID:          model.ConfigPortfolio,
			Name:        model.ConfigPortfolio.Title(),
			Description: "Strategy and investment funding across value streams",
		},
		{
			ID:          model.ConfigFull,
			Name:        model.ConfigFull.Title(),
			Description: "Portfolio and large solution together",
		},
	}
}

// ConfigurationIndex returns the position of id in AvailableConfigurations,
// or 0 when it is not offered.
func ConfigurationIndex(id model.Configuration) int {
	for i, c := range AvailableConfigurations() {
		if c.ID == id {
			return i
		}
	}
	return 0
}
