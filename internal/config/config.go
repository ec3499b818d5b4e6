// Package config defines the single immutable configuration record the core
// is parameterized by (spec.md §6). Loading follows the teacher's pattern in
// internal/config/regime/weights.go: read YAML with gopkg.in/yaml.v2, then
// validate in one pass before handing the struct to any component.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/quantedge/alphacore/internal/apperrors"
)

// Objective selects the PortfolioOptimizer's objective function.
type Objective string

const (
	ObjectiveMaxSharpe      Objective = "MaxSharpe"
	ObjectiveMinVariance    Objective = "MinVariance"
	ObjectiveMaxQuadUtility Objective = "MaxQuadraticUtility"
	ObjectiveEfficientRisk  Objective = "EfficientRisk"
	ObjectiveEfficientReturn Objective = "EfficientReturn"
)

// RebalanceFrequency selects how often the BacktestDriver rebalances.
type RebalanceFrequency string

const (
	Monthly   RebalanceFrequency = "Monthly"
	Quarterly RebalanceFrequency = "Quarterly"
)

// RegimeMethod selects the RegimeDetector's classification method.
type RegimeMethod string

const (
	RegimeMethodSMA      RegimeMethod = "Sma"
	RegimeMethodVIX      RegimeMethod = "Vix"
	RegimeMethodCombined RegimeMethod = "Combined"
)

// Mode selects long-only vs 130/30-style long-short.
type Mode struct {
	LongShort      bool
	LongExposure   float64
	ShortExposure  float64
}

// NetExposure returns long - short (1.0 for the long-only default).
func (m Mode) NetExposure() float64 {
	if !m.LongShort {
		return 1.0
	}
	return m.LongExposure - m.ShortExposure
}

// Bounds is an inclusive (min, max) pair used for per-ticker weight bounds
// and CAPE/regime threshold pairs.
type Bounds struct {
	Min float64
	Max float64
}

// RegimeExposures maps each Regime to a gross exposure multiplier.
type RegimeExposures struct {
	RiskOff  float64
	Caution  float64
	RiskOn   float64
}

// Config is the core's single immutable parameterization (spec.md §6).
type Config struct {
	FactorWeightValue    float64
	FactorWeightQuality  float64
	FactorWeightMomentum float64

	AlphaScalar  float64
	RiskAversion float64
	BLTau        float64

	WeightBounds Bounds
	SectorCap    float64

	Objective Objective
	TargetVol float64 // used by EfficientRisk
	TargetRet float64 // used by EfficientReturn

	Mode Mode

	RebalanceFrequency RebalanceFrequency
	TopN               int

	UseMacro          bool
	UseFactorRegimes  bool
	UseRegimeAdjustment bool
	RegimeMethod      RegimeMethod
	RegimeExposures   RegimeExposures

	MinTargetSharpe *float64

	TiltStrength   float64
	FFWindowMonths int

	CAPEThresholds Bounds
	CAPEScalars    Bounds

	SlippageBps float64
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		FactorWeightValue:    0.40,
		FactorWeightQuality:  0.40,
		FactorWeightMomentum: 0.20,

		AlphaScalar:  0.02,
		RiskAversion: 2.5,
		BLTau:        0.05,

		WeightBounds: Bounds{Min: 0.0, Max: 0.30},
		SectorCap:    0.35,

		Objective: ObjectiveMaxSharpe,

		Mode: Mode{LongShort: false},

		RebalanceFrequency: Monthly,
		TopN:               50,

		UseMacro:            false,
		UseFactorRegimes:    false,
		UseRegimeAdjustment: false,
		RegimeMethod:        RegimeMethodCombined,
		RegimeExposures:     RegimeExposures{RiskOff: 0.50, Caution: 0.75, RiskOn: 1.00},

		TiltStrength:   0.5,
		FFWindowMonths: 12,

		CAPEThresholds: Bounds{Min: 15, Max: 35},
		CAPEScalars:    Bounds{Min: 1.20, Max: 0.70},

		SlippageBps: 0,
	}
}

// yamlConfig mirrors Config with yaml tags; kept separate so Config itself
// stays free of serialization concerns, the way the teacher splits
// WeightsConfig (yaml) from DomainRegimeWeights (runtime).
type yamlConfig struct {
	FactorWeights struct {
		Value    float64 `yaml:"value"`
		Quality  float64 `yaml:"quality"`
		Momentum float64 `yaml:"momentum"`
	} `yaml:"factor_weights"`
	AlphaScalar  float64 `yaml:"alpha_scalar"`
	RiskAversion float64 `yaml:"risk_aversion"`
	BLTau        float64 `yaml:"bl_tau"`
	WeightBounds struct {
		Min float64 `yaml:"min"`
		Max float64 `yaml:"max"`
	} `yaml:"weight_bounds"`
	SectorCap float64 `yaml:"sector_cap"`
	Objective string  `yaml:"objective"`
	TargetVol float64 `yaml:"target_vol"`
	TargetRet float64 `yaml:"target_ret"`
	Mode      struct {
		LongShort     bool    `yaml:"long_short"`
		LongExposure  float64 `yaml:"long_exposure"`
		ShortExposure float64 `yaml:"short_exposure"`
	} `yaml:"mode"`
	RebalanceFrequency  string  `yaml:"rebalance_frequency"`
	TopN                int     `yaml:"top_n"`
	UseMacro            bool    `yaml:"use_macro"`
	UseFactorRegimes    bool    `yaml:"use_factor_regimes"`
	UseRegimeAdjustment bool    `yaml:"use_regime_adjustment"`
	RegimeMethod        string  `yaml:"regime_method"`
	RegimeExposures     struct {
		RiskOff float64 `yaml:"risk_off"`
		Caution float64 `yaml:"caution"`
		RiskOn  float64 `yaml:"risk_on"`
	} `yaml:"regime_exposures"`
	MinTargetSharpe *float64 `yaml:"min_target_sharpe"`
	TiltStrength    float64  `yaml:"tilt_strength"`
	FFWindowMonths  int      `yaml:"ff_window_months"`
	CAPEThresholds  struct {
		Low  float64 `yaml:"low"`
		High float64 `yaml:"high"`
	} `yaml:"cape_thresholds"`
	CAPEScalars struct {
		Low  float64 `yaml:"low"`
		High float64 `yaml:"high"`
	} `yaml:"cape_scalars"`
	SlippageBps float64 `yaml:"slippage_bps"`
}

// Load reads and validates a YAML configuration file, starting from Default()
// so unset fields keep their documented defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading config file %s: %v", apperrors.ErrConfigurationInvalid, path, err)
	}

	cfg := Default()
	var y yamlConfig
	fillYAMLFromConfig(&y, cfg)

	if err := yaml.Unmarshal(data, &y); err != nil {
		return Config{}, fmt.Errorf("%w: parsing YAML config %s: %v", apperrors.ErrConfigurationInvalid, path, err)
	}

	cfg = fromYAML(y)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fillYAMLFromConfig(y *yamlConfig, cfg Config) {
	y.FactorWeights.Value = cfg.FactorWeightValue
	y.FactorWeights.Quality = cfg.FactorWeightQuality
	y.FactorWeights.Momentum = cfg.FactorWeightMomentum
	y.AlphaScalar = cfg.AlphaScalar
	y.RiskAversion = cfg.RiskAversion
	y.BLTau = cfg.BLTau
	y.WeightBounds.Min = cfg.WeightBounds.Min
	y.WeightBounds.Max = cfg.WeightBounds.Max
	y.SectorCap = cfg.SectorCap
	y.Objective = string(cfg.Objective)
	y.Mode.LongShort = cfg.Mode.LongShort
	y.Mode.LongExposure = cfg.Mode.LongExposure
	y.Mode.ShortExposure = cfg.Mode.ShortExposure
	y.RebalanceFrequency = string(cfg.RebalanceFrequency)
	y.TopN = cfg.TopN
	y.UseMacro = cfg.UseMacro
	y.UseFactorRegimes = cfg.UseFactorRegimes
	y.UseRegimeAdjustment = cfg.UseRegimeAdjustment
	y.RegimeMethod = string(cfg.RegimeMethod)
	y.RegimeExposures.RiskOff = cfg.RegimeExposures.RiskOff
	y.RegimeExposures.Caution = cfg.RegimeExposures.Caution
	y.RegimeExposures.RiskOn = cfg.RegimeExposures.RiskOn
	y.MinTargetSharpe = cfg.MinTargetSharpe
	y.TiltStrength = cfg.TiltStrength
	y.FFWindowMonths = cfg.FFWindowMonths
	y.CAPEThresholds.Low = cfg.CAPEThresholds.Min
	y.CAPEThresholds.High = cfg.CAPEThresholds.Max
	y.CAPEScalars.Low = cfg.CAPEScalars.Min
	y.CAPEScalars.High = cfg.CAPEScalars.Max
	y.SlippageBps = cfg.SlippageBps
}

func fromYAML(y yamlConfig) Config {
	return Config{
		FactorWeightValue:    y.FactorWeights.Value,
		FactorWeightQuality:  y.FactorWeights.Quality,
		FactorWeightMomentum: y.FactorWeights.Momentum,
		AlphaScalar:          y.AlphaScalar,
		RiskAversion:         y.RiskAversion,
		BLTau:                y.BLTau,
		WeightBounds:         Bounds{Min: y.WeightBounds.Min, Max: y.WeightBounds.Max},
		SectorCap:            y.SectorCap,
		Objective:            Objective(y.Objective),
		TargetVol:            y.TargetVol,
		TargetRet:            y.TargetRet,
		Mode: Mode{
			LongShort:     y.Mode.LongShort,
			LongExposure:  y.Mode.LongExposure,
			ShortExposure: y.Mode.ShortExposure,
		},
		RebalanceFrequency:  RebalanceFrequency(y.RebalanceFrequency),
		TopN:                y.TopN,
		UseMacro:            y.UseMacro,
		UseFactorRegimes:    y.UseFactorRegimes,
		UseRegimeAdjustment: y.UseRegimeAdjustment,
		RegimeMethod:        RegimeMethod(y.RegimeMethod),
		RegimeExposures: RegimeExposures{
			RiskOff: y.RegimeExposures.RiskOff,
			Caution: y.RegimeExposures.Caution,
			RiskOn:  y.RegimeExposures.RiskOn,
		},
		MinTargetSharpe: y.MinTargetSharpe,
		TiltStrength:    y.TiltStrength,
		FFWindowMonths:  y.FFWindowMonths,
		CAPEThresholds:  Bounds{Min: y.CAPEThresholds.Low, Max: y.CAPEThresholds.High},
		CAPEScalars:     Bounds{Min: y.CAPEScalars.Low, Max: y.CAPEScalars.High},
		SlippageBps:     y.SlippageBps,
	}
}

// Validate checks every cross-field invariant spec.md §7 requires be caught
// at construction time.
func (c Config) Validate() error {
	sum := c.FactorWeightValue + c.FactorWeightQuality + c.FactorWeightMomentum
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("%w: factor_weights sum to %.6f, expected 1.0", apperrors.ErrConfigurationInvalid, sum)
	}
	if c.FactorWeightValue < 0 || c.FactorWeightQuality < 0 || c.FactorWeightMomentum < 0 {
		return fmt.Errorf("%w: factor_weights must be non-negative", apperrors.ErrConfigurationInvalid)
	}
	if c.WeightBounds.Min > c.WeightBounds.Max {
		return fmt.Errorf("%w: weight_bounds min %.4f exceeds max %.4f", apperrors.ErrConfigurationInvalid, c.WeightBounds.Min, c.WeightBounds.Max)
	}
	if c.SectorCap <= 0 || c.SectorCap > 1.0 {
		return fmt.Errorf("%w: sector_cap %.4f must be in (0, 1]", apperrors.ErrConfigurationInvalid, c.SectorCap)
	}
	if c.BLTau <= 0 {
		return fmt.Errorf("%w: bl_tau %.4f must be positive", apperrors.ErrConfigurationInvalid, c.BLTau)
	}
	if c.RiskAversion <= 0 {
		return fmt.Errorf("%w: risk_aversion %.4f must be positive", apperrors.ErrConfigurationInvalid, c.RiskAversion)
	}
	switch c.Objective {
	case ObjectiveMaxSharpe, ObjectiveMinVariance, ObjectiveMaxQuadUtility, ObjectiveEfficientRisk, ObjectiveEfficientReturn:
	default:
		return fmt.Errorf("%w: unknown objective %q", apperrors.ErrConfigurationInvalid, c.Objective)
	}
	if c.Mode.LongShort {
		if c.Mode.LongExposure <= 0 || c.Mode.ShortExposure < 0 {
			return fmt.Errorf("%w: long/short mode requires long_exposure > 0 and short_exposure >= 0", apperrors.ErrConfigurationInvalid)
		}
	}
	switch c.RebalanceFrequency {
	case Monthly, Quarterly:
	default:
		return fmt.Errorf("%w: unknown rebalance_frequency %q", apperrors.ErrConfigurationInvalid, c.RebalanceFrequency)
	}
	if c.TopN <= 0 {
		return fmt.Errorf("%w: top_n must be positive, got %d", apperrors.ErrConfigurationInvalid, c.TopN)
	}
	switch c.RegimeMethod {
	case RegimeMethodSMA, RegimeMethodVIX, RegimeMethodCombined:
	default:
		return fmt.Errorf("%w: unknown regime_method %q", apperrors.ErrConfigurationInvalid, c.RegimeMethod)
	}
	for _, v := range []float64{c.RegimeExposures.RiskOff, c.RegimeExposures.Caution, c.RegimeExposures.RiskOn} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: regime_exposures entries must be in [0,1]", apperrors.ErrConfigurationInvalid)
		}
	}
	if c.TiltStrength < 0 || c.TiltStrength > 1 {
		return fmt.Errorf("%w: tilt_strength %.4f must be in [0,1]", apperrors.ErrConfigurationInvalid, c.TiltStrength)
	}
	if c.FFWindowMonths <= 0 {
		return fmt.Errorf("%w: ff_window_months must be positive", apperrors.ErrConfigurationInvalid)
	}
	if c.CAPEThresholds.Min >= c.CAPEThresholds.Max {
		return fmt.Errorf("%w: cape_thresholds low must be below high", apperrors.ErrConfigurationInvalid)
	}
	return nil
}
