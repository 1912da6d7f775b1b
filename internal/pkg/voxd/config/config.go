package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"voxd/internal/pkg/voxd/engine"
)

type Config struct {
	// Server
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Engine
	Engine          string  `mapstructure:"engine"`
	ModelPath       string  `mapstructure:"model_path"`
	ConfigPath      string  `mapstructure:"config_path"`
	VoicesPath      string  `mapstructure:"voices_path"`
	ServerURL       string  `mapstructure:"server_url"`
	UseGPU          bool    `mapstructure:"use_gpu"`
	NoiseScale      float32 `mapstructure:"noise_scale"`
	LengthScale     float32 `mapstructure:"length_scale"`
	DefaultVoice    string  `mapstructure:"default_voice"`
	DefaultLanguage string  `mapstructure:"default_language"`
	DefaultInstruct string  `mapstructure:"default_instruct"`

	LoadTimeout  time.Duration `mapstructure:"load_timeout"`
	InferTimeout time.Duration `mapstructure:"infer_timeout"`

	Enhance bool `mapstructure:"enhance"`
	Warmup  bool `mapstructure:"warmup"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// EngineConfig projects the server configuration onto the engine contract.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Backend:         c.Engine,
		ModelPath:       c.ModelPath,
		ConfigPath:      c.ConfigPath,
		VoicesPath:      c.VoicesPath,
		ServerURL:       c.ServerURL,
		UseGPU:          c.UseGPU,
		NoiseScale:      c.NoiseScale,
		LengthScale:     c.LengthScale,
		DefaultVoice:    c.DefaultVoice,
		DefaultLanguage: c.DefaultLanguage,
		DefaultInstruct: c.DefaultInstruct,
		LoadTimeout:     c.LoadTimeout,
		InferTimeout:    c.InferTimeout,
		Enhance:         c.Enhance,
		Warmup:          c.Warmup,
	}
}

func LoadAndParse() (*Config, error) {
	viper.SetDefault("addr", ":8080")
	viper.SetDefault("shutdown_timeout", 10*time.Second)
	viper.SetDefault("engine", "piper")
	viper.SetDefault("model_path", "models/model.onnx")
	viper.SetDefault("config_path", "")
	viper.SetDefault("voices_path", "models/voices")
	viper.SetDefault("server_url", "")
	viper.SetDefault("use_gpu", false)
	viper.SetDefault("noise_scale", 0.667)
	viper.SetDefault("length_scale", 1.0)
	viper.SetDefault("default_voice", "")
	viper.SetDefault("default_language", "")
	viper.SetDefault("default_instruct", "")
	viper.SetDefault("load_timeout", 2*time.Minute)
	viper.SetDefault("infer_timeout", 60*time.Second)
	viper.SetDefault("enhance", false)
	viper.SetDefault("warmup", false)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_file", "")

	flagSet := pflag.NewFlagSet("voxd", pflag.ContinueOnError)
	configFile := flagSet.StringP("config", "c", "", "Path to config file")
	flagSet.StringP("addr", "a", "", "Listen address (host:port)")
	flagSet.StringP("engine", "e", "", "Engine backend (piper, kokoro, pocket, qwen3, whisper)")
	flagSet.StringP("model", "m", "", "Path to model file")
	flagSet.String("model-config", "", "Path to model config JSON (piper)")
	flagSet.String("voices", "", "Path to voices directory")
	flagSet.String("server-url", "", "Inference sidecar base URL (qwen3)")
	flagSet.Bool("gpu", false, "Request GPU acceleration")
	flagSet.String("voice", "", "Default voice")
	flagSet.String("language", "", "Default language")
	flagSet.Bool("enhance", false, "Enable audio enhancement chain")
	flagSet.Bool("warmup", false, "Run a warmup synthesis after model load")
	flagSet.StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	flagSet.String("log-file", "", "Log file path")
	helpFlag := flagSet.BoolP("help", "h", false, "Show help message")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *helpFlag {
		fmt.Fprintf(os.Stderr, "Usage: voxd [options]\n\nOptions:\n")
		flagSet.PrintDefaults()
		os.Exit(0)
	}

	bindings := map[string]string{
		"addr":             "addr",
		"engine":           "engine",
		"model_path":       "model",
		"config_path":      "model-config",
		"voices_path":      "voices",
		"server_url":       "server-url",
		"use_gpu":          "gpu",
		"default_voice":    "voice",
		"default_language": "language",
		"enhance":          "enhance",
		"warmup":           "warmup",
		"log_level":        "log-level",
		"log_file":         "log-file",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flagSet.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	} else {
		viper.SetConfigName("voxd.cfg")
		viper.SetConfigType("toml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "voxd"))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	viper.SetEnvPrefix("VOXD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !engine.IsRegistered(cfg.Engine) {
		return nil, fmt.Errorf("unknown engine %q (registered: %v)", cfg.Engine, engine.Backends())
	}
	if cfg.Engine == "qwen3" && cfg.ServerURL == "" {
		return nil, fmt.Errorf("engine qwen3 requires server_url")
	}

	return &cfg, nil
}
