package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Upload struct {
		Dir string
	}
	Output struct {
		Dir string
	}
	FFmpeg struct {
		Bin              string
		ProbeBin         string
		ExtraArgs        string
		MaxConcurrent    int
		ThrottleCPU      float64
		ThrottleFreeMem  int64
		ThrottleFreeDisk int64
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("CONVERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8765")
	v.SetDefault("database.path", "data/convert.db")
	v.SetDefault("upload.dir", "uploads")
	v.SetDefault("output.dir", "outputs")
	v.SetDefault("ffmpeg.bin", "ffmpeg")
	v.SetDefault("ffmpeg.probebin", "ffprobe")
	v.SetDefault("ffmpeg.extraargs", "")
	v.SetDefault("ffmpeg.maxconcurrent", 3)
	v.SetDefault("ffmpeg.throttlecpu", 0.0)
	v.SetDefault("ffmpeg.throttlefreemem", 0)
	v.SetDefault("ffmpeg.throttlefreedisk", 0)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "convert-outputs")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
