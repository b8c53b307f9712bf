// Package config loads kiln settings from a YAML file and KILN_ environment variables
package config

import (
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/pager"
	"github.com/vkngwrapper/kiln/renderer"
	"github.com/vkngwrapper/kiln/resource"
)

type Config struct {
	Pager    PagerConfig    `mapstructure:"pager" yaml:"pager"`
	Renderer RendererConfig `mapstructure:"renderer" yaml:"renderer"`
	Resource ResourceConfig `mapstructure:"resource" yaml:"resource"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type PagerConfig struct {
	BufferPageSize         int                 `mapstructure:"buffer_page_size" yaml:"buffer_page_size"`
	DescriptorHeapSizes    DescriptorHeapSizes `mapstructure:"descriptor_heap_sizes" yaml:"descriptor_heap_sizes"`
	ExternallySynchronized bool                `mapstructure:"externally_synchronized" yaml:"externally_synchronized"`
}

type DescriptorHeapSizes struct {
	CBVSRVUAV int `mapstructure:"cbv_srv_uav" yaml:"cbv_srv_uav"`
	Sampler   int `mapstructure:"sampler" yaml:"sampler"`
	RTV       int `mapstructure:"rtv" yaml:"rtv"`
	DSV       int `mapstructure:"dsv" yaml:"dsv"`
}

type RendererConfig struct {
	BufferCount int       `mapstructure:"buffer_count" yaml:"buffer_count"`
	Width       int       `mapstructure:"width" yaml:"width"`
	Height      int       `mapstructure:"height" yaml:"height"`
	ClearColor  []float32 `mapstructure:"clear_color" yaml:"clear_color"`
}

type ResourceConfig struct {
	TextureCacheBytes int64 `mapstructure:"texture_cache_bytes" yaml:"texture_cache_bytes"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// JSONFile receives a JSON copy of every log record when set
	JSONFile string `mapstructure:"json_file" yaml:"json_file"`
}

func Default() *Config {
	return &Config{
		Pager: PagerConfig{
			BufferPageSize: pager.DefaultBufferPageSize,
			DescriptorHeapSizes: DescriptorHeapSizes{
				CBVSRVUAV: pager.DefaultDescriptorHeapSizes[gpu.DescriptorHeapTypeCBVSRVUAV],
				Sampler:   pager.DefaultDescriptorHeapSizes[gpu.DescriptorHeapTypeSampler],
				RTV:       pager.DefaultDescriptorHeapSizes[gpu.DescriptorHeapTypeRTV],
				DSV:       pager.DefaultDescriptorHeapSizes[gpu.DescriptorHeapTypeDSV],
			},
		},
		Renderer: RendererConfig{
			BufferCount: renderer.DefaultBufferCount,
			Width:       1280,
			Height:      720,
			ClearColor:  []float32{0, 0.2, 0.4, 1},
		},
		Resource: ResourceConfig{
			TextureCacheBytes: resource.DefaultTextureCacheBytes,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path, or kiln.yaml in the working directory when path is empty, over the defaults.
// KILN_ environment variables override both, with dots in keys replaced by underscores.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("kiln")
	}

	v.SetEnvPrefix("KILN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("pager.buffer_page_size", cfg.Pager.BufferPageSize)
	v.SetDefault("pager.descriptor_heap_sizes.cbv_srv_uav", cfg.Pager.DescriptorHeapSizes.CBVSRVUAV)
	v.SetDefault("pager.descriptor_heap_sizes.sampler", cfg.Pager.DescriptorHeapSizes.Sampler)
	v.SetDefault("pager.descriptor_heap_sizes.rtv", cfg.Pager.DescriptorHeapSizes.RTV)
	v.SetDefault("pager.descriptor_heap_sizes.dsv", cfg.Pager.DescriptorHeapSizes.DSV)
	v.SetDefault("pager.externally_synchronized", cfg.Pager.ExternallySynchronized)

	v.SetDefault("renderer.buffer_count", cfg.Renderer.BufferCount)
	v.SetDefault("renderer.width", cfg.Renderer.Width)
	v.SetDefault("renderer.height", cfg.Renderer.Height)
	v.SetDefault("renderer.clear_color", cfg.Renderer.ClearColor)

	v.SetDefault("resource.texture_cache_bytes", cfg.Resource.TextureCacheBytes)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.json_file", cfg.Log.JSONFile)
}

func (c *Config) Validate() error {
	if c.Pager.BufferPageSize <= 0 {
		return errors.Newf("pager.buffer_page_size must be positive, but was %d", c.Pager.BufferPageSize)
	}
	if c.Renderer.BufferCount < renderer.MinBufferCount || c.Renderer.BufferCount > renderer.MaxBufferCount {
		return errors.Newf("renderer.buffer_count must be between %d and %d, but was %d",
			renderer.MinBufferCount, renderer.MaxBufferCount, c.Renderer.BufferCount)
	}
	if c.Renderer.Width <= 0 || c.Renderer.Height <= 0 {
		return errors.Newf("renderer size must be positive, but was %dx%d", c.Renderer.Width, c.Renderer.Height)
	}
	if len(c.Renderer.ClearColor) != 4 {
		return errors.Newf("renderer.clear_color must have 4 components, but had %d", len(c.Renderer.ClearColor))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// PagerOptions returns the allocator options described by the config
func (c *Config) PagerOptions() pager.CreateOptions {
	options := pager.CreateOptions{
		BufferPageSize: c.Pager.BufferPageSize,
		DescriptorHeapSizes: map[gpu.DescriptorHeapType]int{
			gpu.DescriptorHeapTypeCBVSRVUAV: c.Pager.DescriptorHeapSizes.CBVSRVUAV,
			gpu.DescriptorHeapTypeSampler:   c.Pager.DescriptorHeapSizes.Sampler,
			gpu.DescriptorHeapTypeRTV:       c.Pager.DescriptorHeapSizes.RTV,
			gpu.DescriptorHeapTypeDSV:       c.Pager.DescriptorHeapSizes.DSV,
		},
	}
	if c.Pager.ExternallySynchronized {
		options.Flags |= pager.CreateExternallySynchronized
	}
	return options
}

func (c *Config) RendererOptions() renderer.Options {
	options := renderer.Options{
		BufferCount: c.Renderer.BufferCount,
		Width:       c.Renderer.Width,
		Height:      c.Renderer.Height,
	}
	copy(options.ClearColor[:], c.Renderer.ClearColor)
	return options
}

func (c *Config) ResourceOptions() resource.Options {
	return resource.Options{TextureCacheBytes: c.Resource.TextureCacheBytes}
}

// SlogLevel parses the configured log level
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return level, errors.Wrapf(err, "log.level %q is not a log level", c.Level)
	}
	return level, nil
}
