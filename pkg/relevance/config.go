package relevance

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// KeywordConfig drives both the relevance filter and the product
// inferencer. Deployments can override the compiled-in sets with a YAML
// file; categories not listed fall away entirely.
type KeywordConfig struct {
	Include  []string            `yaml:"include" json:"include"`
	Exclude  []string            `yaml:"exclude" json:"exclude"`
	Products map[string][]string `yaml:"products" json:"products"`
}

func LoadKeywords(path string) (KeywordConfig, error) {
	if path == "" {
		return DefaultKeywords(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultKeywords(), err
	}

	var cfg KeywordConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return KeywordConfig{}, err
	}

	if len(cfg.Include) == 0 {
		return KeywordConfig{}, errors.New("no include keywords configured")
	}

	return cfg, nil
}

func DefaultKeywords() KeywordConfig {
	return KeywordConfig{
		Include: []string{
			"cannabis", "marijuana", "marihuana", "hemp", "cbd", "cannabidiol",
			"thc", "tetrahydrocannabinol", "delta-8", "delta-9", "delta-10",
			"kratom", "mitragyna", "mitragynine",
			"kava", "kavalactone",
			"nicotine", "tobacco", "vaping", "vape", "e-cigarette", "e-liquid",
			"psilocybin", "psilocin", "psychedelic", "ibogaine",
			"controlled substance", "schedule i", "dispensary",
		},
		Exclude: []string{
			"wildlife", "fisheries", "fishery", "endangered species",
			"migratory bird", "marine mammal",
			"aviation", "aircraft", "airworthiness",
			"mining", "coal", "offshore drilling",
			"maritime", "vessel safety",
			"highway safety", "motor carrier",
		},
		Products: map[string][]string{
			"cannabis":     {"cannabis", "marijuana", "marihuana", "thc", "tetrahydrocannabinol", "dispensary"},
			"hemp":         {"hemp", "cbd", "cannabidiol"},
			"delta8":       {"delta-8", "delta 8", "delta-10", "delta 10", "hhc"},
			"kratom":       {"kratom", "mitragyna", "mitragynine", "7-hydroxymitragynine"},
			"kava":         {"kava", "kavalactone", "piper methysticum"},
			"nicotine":     {"nicotine", "tobacco", "vaping", "vape", "e-cigarette", "e-liquid", "smokeless"},
			"psychedelics": {"psilocybin", "psilocin", "psychedelic", "ibogaine", "ayahuasca", "mdma"},
		},
	}
}
