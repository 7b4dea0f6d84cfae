package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "DIAR"

type Service struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}
type Services struct {
	Visualization Service `mapstructure:"visualization"`
}
type Paths struct {
	InputList string `mapstructure:"input_list"`
	NormList  string `mapstructure:"norm_list"`
	Ivecs     string `mapstructure:"ivecs"`
	Out       string `mapstructure:"out"`
	PLDAModel string `mapstructure:"plda_model"`
	Reference string `mapstructure:"reference"`
	Summary   string `mapstructure:"summary"`
}
type Scoring struct {
	Kind  string   `mapstructure:"kind"` // plda | cosine
	Scale *float64 `mapstructure:"scale"`
	Shift *float64 `mapstructure:"shift"`
}
type Clustering struct {
	MaxIter       int    `mapstructure:"max_iter"`
	Seed          uint64 `mapstructure:"seed"`
	KMeansInit    int    `mapstructure:"kmeans_init"`
	KMeansMaxIter int    `mapstructure:"kmeans_max_iter"`
}
type Speakers struct {
	Min int `mapstructure:"min"`
	Max int `mapstructure:"max"`
}
type Classifier struct {
	Kind       string  `mapstructure:"kind"` // logistic | gmm
	Components int     `mapstructure:"components"`
	Covariance string  `mapstructure:"covariance"`
	MaxIter    int     `mapstructure:"max_iter"`
	C          float64 `mapstructure:"c"`
}
type Evaluation struct {
	Collar    float64 `mapstructure:"collar"`
	PlotTitle string  `mapstructure:"plot_title"`
}
type Root struct {
	Pipeline struct {
		Name      string `mapstructure:"name"`
		LogLevel  string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"`
		Workers   int    `mapstructure:"workers"`
	} `mapstructure:"pipeline"`
	Paths      Paths      `mapstructure:"paths"`
	Scoring    Scoring    `mapstructure:"scoring"`
	Clustering Clustering `mapstructure:"clustering"`
	Speakers   Speakers   `mapstructure:"speakers"`
	Classifier Classifier `mapstructure:"classifier"`
	Evaluation Evaluation `mapstructure:"evaluation"`
	Services   Services   `mapstructure:"services"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.name", "ivec-diarization")
	v.SetDefault("pipeline.log_level", "info")
	v.SetDefault("pipeline.log_format", "text")
	v.SetDefault("pipeline.workers", 1)
	for _, k := range []string{"input_list", "norm_list", "ivecs", "plda_model", "reference", "summary"} {
		v.SetDefault("paths."+k, "")
	}
	v.SetDefault("paths.out", "out")
	v.SetDefault("scoring.kind", "plda")
	v.SetDefault("clustering.max_iter", 20)
	v.SetDefault("clustering.seed", 0)
	v.SetDefault("clustering.kmeans_init", 10)
	v.SetDefault("clustering.kmeans_max_iter", 300)
	v.SetDefault("speakers.min", 2)
	v.SetDefault("speakers.max", 6)
	v.SetDefault("classifier.kind", "logistic")
	v.SetDefault("classifier.components", 1)
	v.SetDefault("classifier.covariance", "full")
	v.SetDefault("classifier.max_iter", 100)
	v.SetDefault("classifier.c", 1.0)
	v.SetDefault("evaluation.collar", 0.25)
	v.SetDefault("evaluation.plot_title", "Diarization Error Rate")
	v.SetDefault("services.visualization.url", "")
	v.SetDefault("services.visualization.timeout_seconds", 60)
}

// find returns the first existing config file for CONFIG_ENV, or "".
func find() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	guess := []string{
		filepath.Join("config", env, "config.yaml"),
		"config.yaml",
	}
	for _, p := range guess {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load resolves the configuration from file, DIAR_* environment variables
// and whatever flags were bound to v beforehand. An empty file means search
// the default locations; finding none is not an error.
func Load(v *viper.Viper, file string) (*Root, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file == "" {
		file = find()
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Root
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *Root) Validate() error {
	var errs []error
	if r.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be >= 1, got %d", r.Pipeline.Workers))
	}
	if r.Speakers.Min < 2 || r.Speakers.Max < r.Speakers.Min {
		errs = append(errs, fmt.Errorf("speakers range [%d, %d] is invalid", r.Speakers.Min, r.Speakers.Max))
	}
	switch r.Scoring.Kind {
	case "plda":
		if r.Paths.PLDAModel == "" {
			errs = append(errs, errors.New("paths.plda_model is required for plda scoring"))
		}
	case "cosine":
	default:
		errs = append(errs, fmt.Errorf("unknown scoring.kind %q", r.Scoring.Kind))
	}
	if r.Evaluation.Collar < 0 {
		errs = append(errs, fmt.Errorf("evaluation.collar must be >= 0, got %v", r.Evaluation.Collar))
	}
	return errors.Join(errs...)
}

func DurSeconds(n int) time.Duration { return time.Duration(n) * time.Second }
