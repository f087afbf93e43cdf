package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// Root names accepted by the *_root layout keys.
const (
	RootLibrary  = "library"
	RootTemp     = "temp"
	RootPreviews = "previews"
)

type Config struct {
	LibraryRoot  string `koanf:"library_root" default:"/media" validate:"required"`
	TempRoot     string `koanf:"temp_root" default:"/tmp/photoshelf" validate:"required"`
	PreviewsRoot string `koanf:"previews_root" default:"/previews" validate:"required"`
	BackupRoot   string `koanf:"backup_root" default:"/tmp/photoshelf/backups" validate:"required"`

	OriginalRoot string `koanf:"original_root" default:"library" validate:"oneof=library temp previews"`
	PreviewRoot  string `koanf:"preview_root" default:"previews" validate:"oneof=library temp previews"`
	FullSizeRoot string `koanf:"full_size_root" default:"previews" validate:"oneof=library temp previews"`
	HashNaming   bool   `koanf:"hash_naming" default:"true"`

	PreviewMaxWidth         int           `koanf:"preview_max_width" default:"1200" validate:"gt=0"`
	PreviewMaxHeight        int           `koanf:"preview_max_height" default:"1200" validate:"gt=0"`
	PreviewQuality          int           `koanf:"preview_quality" default:"80" validate:"gte=1,lte=100"`
	FullSizeQuality         int           `koanf:"full_size_quality" default:"92" validate:"gte=1,lte=100"`
	VideoThumbnailTimestamp time.Duration `koanf:"video_thumbnail_timestamp" default:"1s"`
	VideoThumbnailSize      int           `koanf:"video_thumbnail_size" default:"1200" validate:"gt=0"`

	Concurrency         int           `koanf:"concurrency" default:"4" validate:"gt=0"`
	ExternalCallTimeout time.Duration `koanf:"external_call_timeout" default:"2m" validate:"gt=0"`
	ExiftoolPath        string        `koanf:"exiftool_path" default:"exiftool"`
	FFmpegPath          string        `koanf:"ffmpeg_path" default:"ffmpeg"`

	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" default:"5"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" default:"2s"`
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" default:"5s"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" default:"5"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseFilePath          string        `koanf:"database_file_path" validate:"required"`

	MetricsTextfile string `koanf:"metrics_textfile"`
}

const (
	configFileENV     = "CONFIG_FILE"
	defaultConfigFile = "/config/photoshelf.yaml"
)

func New() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	k := koanf.New(".")

	configFile := os.Getenv(configFileENV)
	if configFile == "" {
		configFile = defaultConfigFile
	}
	if _, err := os.Stat(configFile); err == nil {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", configFile)
		}
	}

	known := knownKeys()
	err := k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		if _, ok := known[key]; !ok {
			// Returning an empty key makes koanf skip the variable.
			return ""
		}
		return key
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewForTest returns a config pointing at an in-memory database. Callers are
// expected to overwrite the roots with temporary directories.
func NewForTest() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	cfg.DatabaseFilePath = ":memory:"
	cfg.ExternalCallTimeout = 10 * time.Second
	cfg.DatabaseConnectRetryCount = 1
	cfg.DatabaseConnectRetryDelay = 0
	return cfg
}

func validate(cfg *Config) error {
	v := validator.New()
	err := v.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.WithStack(err)
	}
	fe := verrs[0]
	key := keyForField(fe.StructField())
	envName := strings.ToUpper(key)
	if fe.Tag() == "required" {
		return errors.Errorf("missing required config: %s (%s)", envName, key)
	}
	return errors.Errorf("invalid config value for %s (%s): failed %q", envName, key, fe.Tag())
}

func knownKeys() map[string]struct{} {
	keys := map[string]struct{}{}
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("koanf"); tag != "" {
			keys[tag] = struct{}{}
		}
	}
	return keys
}

func keyForField(name string) string {
	f, ok := reflect.TypeOf(Config{}).FieldByName(name)
	if !ok {
		return strings.ToLower(name)
	}
	return f.Tag.Get("koanf")
}
