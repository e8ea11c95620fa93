package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	// LSID identifies the login session to the service.
	LSID       string `mapstructure:"lsid"`
	ChannelURL string `mapstructure:"channel_url"`
	UploadURL  string `mapstructure:"upload_url"`
	// ToolBaseURL is where the placement and assessment documents live.
	ToolBaseURL   string `mapstructure:"tool_base_url"`
	PlacementExam string `mapstructure:"placement_exam"`

	FFmpeg       string `mapstructure:"ffmpeg"`
	WebcamDevice string `mapstructure:"webcam_device"`
	AudioDevice  string `mapstructure:"audio_device"`
	Display      string `mapstructure:"display"`
	UserAgent    string `mapstructure:"user_agent"`

	// MetricsAddr enables the /metrics listener when set.
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogFile     string `mapstructure:"log_file"`
}

// ErrMissingLSID is returned when no login session id is configured.
var ErrMissingLSID = errors.New("PROCTOR_LSID is required")

var keys = []string{
	"lsid", "channel_url", "upload_url", "tool_base_url", "placement_exam",
	"ffmpeg", "webcam_device", "audio_device", "display", "user_agent",
	"metrics_addr", "log_file",
}

// Load reads configuration from a .env file (if present), an optional TOML
// file named by PROCTOR_CONFIG and PROCTOR_* environment variables.
// Environment variables take precedence over both files.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("channel_url", "wss://coursedev.math.colostate.edu/ws/mps")
	v.SetDefault("upload_url", "https://nibbler.math.colostate.edu/mps-media/upload.html")
	v.SetDefault("tool_base_url", "https://coursedev.math.colostate.edu/mps/")
	v.SetDefault("placement_exam", "MPTRW")
	v.SetDefault("ffmpeg", "ffmpeg")
	v.SetDefault("webcam_device", "/dev/video0")
	v.SetDefault("audio_device", "default")
	v.SetDefault("display", os.Getenv("DISPLAY"))
	v.SetDefault("log_file", "proctor.log")

	v.SetEnvPrefix("PROCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// Unmarshal only sees env values for bound keys.
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	if path := os.Getenv("PROCTOR_CONFIG"); path != "" {
		v.SetConfigType("toml")
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.LSID == "" {
		return nil, ErrMissingLSID
	}
	return &c, nil
}
