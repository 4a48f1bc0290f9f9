package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"qhy5-indi/pkg/camera"
	"qhy5-indi/pkg/exposure"
	"qhy5-indi/pkg/indi"
	"qhy5-indi/pkg/storage"
	"qhy5-indi/pkg/types"
)

// Options is everything the capture tools can be told, from flags or a
// YAML file given with -config.
type Options struct {
	ConfigFile string `yaml:"-"`

	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Camera string `yaml:"camera"`

	Settings types.Settings  `yaml:"settings"`
	Limits   types.Limits    `yaml:"limits"`
	Auto     exposure.Config `yaml:"auto"`

	Output    string `yaml:"output"`
	Normalize bool   `yaml:"normalize"`
	Quality   int    `yaml:"quality"`

	Interval time.Duration `yaml:"interval"`
	Count    int           `yaml:"count"`
	Timeout  time.Duration `yaml:"timeout"`

	ArchiveDir string `yaml:"archive_dir"`
	Video      string `yaml:"video"`
	FPS        int    `yaml:"fps"`

	HTTPPort   int    `yaml:"http_port"`
	WebdavPort int    `yaml:"webdav_port"`
	NTPServer  string `yaml:"ntp_server"`

	Verbose bool `yaml:"verbose"`
	Debug   bool `yaml:"debug"`

	auto bool
}

// Defaults for qhy5-capture (auto=false) or qhy5-auto (auto=true).
func Defaults(auto bool) *Options {
	o := &Options{
		Host:   indi.DefaultHost,
		Port:   indi.DefaultPort,
		Camera: camera.DefaultName,
		Settings: types.Settings{
			Exposure: 0.1,
			Gain:     1,
			Offset:   0,
			Binning:  2,
		},
		Limits:    camera.DefaultLimits(),
		Auto:      exposure.DefaultConfig(),
		Output:    "blob.jpg",
		Normalize: auto,
		Quality:   storage.DefaultQuality,
		Count:     1,
		Timeout:   camera.DefaultDownloadTimeout,
		FPS:       10,
		auto:      auto,
	}
	if auto {
		o.Settings.Exposure = 0.5
		o.Settings.Offset = 1
		o.Interval = 5 * time.Second
		o.Count = 0
	}
	return o
}

func (o *Options) IsAuto() bool {
	return o.auto
}

func (o *Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// RegisterFlags binds the flags onto o; current field values are the defaults.
func (o *Options) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "YAML config file, flags given explicitly override it")
	fs.StringVar(&o.Host, "host", o.Host, "indiserver host")
	fs.IntVar(&o.Port, "port", o.Port, "indiserver port")
	stringVar(fs, &o.Camera, "camera name", o.Camera, "c", "camera")
	intVar(fs, &o.Settings.Gain, fmt.Sprintf("camera gain %d ... %d", o.Limits.MinGain, o.Limits.MaxGain), o.Settings.Gain, "g", "gain")
	intVar(fs, &o.Settings.Offset, fmt.Sprintf("camera offset %d ... %d", o.Limits.MinOffset, o.Limits.MaxOffset), o.Settings.Offset, "o", "offset")
	intVar(fs, &o.Settings.Binning, "camera binning, 1 (1x1) or 2 (2x2)", o.Settings.Binning, "b", "binning")
	float64Var(fs, &o.Settings.Exposure, "camera exposure time/s", o.Settings.Exposure, "e", "exposure")
	stringVar(fs, &o.Output, "output image, format from extension (.jpg .png .tif .bmp .fits)", o.Output, "f", "file")
	fs.BoolVar(&o.Normalize, "normalize", o.Normalize, "stretch min..max to 0..255")
	fs.IntVar(&o.Quality, "quality", o.Quality, "JPEG quality")
	durationVar(fs, &o.Interval, "time between captures, without -n the captures repeat until interrupted", o.Interval, "i", "interval")
	intVar(fs, &o.Count, "number of captures, 0 = until interrupted", o.Count, "n", "count")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "image download timeout on top of the exposure time")
	fs.StringVar(&o.ArchiveDir, "archive", o.ArchiveDir, "keep numbered copies of every image in this directory")
	fs.StringVar(&o.Video, "video", o.Video, "append every image to this MJPEG AVI time-lapse")
	fs.IntVar(&o.FPS, "fps", o.FPS, "time-lapse frame rate")
	fs.IntVar(&o.HTTPPort, "http", o.HTTPPort, "serve status API on this port, 0 = off")
	fs.IntVar(&o.WebdavPort, "webdav-port", o.WebdavPort, "share the output directory over WebDAV, 0 = off")
	fs.StringVar(&o.NTPServer, "ntp", o.NTPServer, "check the system clock against this NTP server")
	boolVar(fs, &o.Verbose, "verbose messages", o.Verbose, "v", "verbose")
	boolVar(fs, &o.Debug, "more debug messages", o.Debug, "d", "debug")

	if !o.auto {
		return
	}
	fs.Float64Var(&o.Auto.Target, "target", o.Auto.Target, "mean ADU to aim for (0..255)")
	fs.Float64Var(&o.Auto.Tolerance, "tolerance", o.Auto.Tolerance, "accepted deviation from -target")
	fs.IntVar(&o.Auto.MaxTries, "max-tries", o.Auto.MaxTries, "exposures per auto-exposure search")
	fs.Float64Var(&o.Auto.Threshold, "threshold", o.Auto.Threshold, "exposure/s above which gain is raised before exposure")
	fs.IntVar(&o.Auto.GainStep, "gain-step", o.Auto.GainStep, "gain change per step")
}

// Parse reads flags, then the -config file if any, then the flags again so
// that explicit flags win over the file.
func (o *Options) Parse(fs *flag.FlagSet, args []string) error {
	o.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if o.ConfigFile != "" {
		if err := o.Load(o.ConfigFile); err != nil {
			return err
		}
		if err := fs.Parse(args); err != nil {
			return err
		}
	}

	// -i alone asks for a loop
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if (set["i"] || set["interval"]) && !set["n"] && !set["count"] && o.Interval > 0 {
		o.Count = 0
	}
	return o.Validate()
}

// Load decodes a YAML file over the current values.
func (o *Options) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err = yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("unmarshal yaml: %w", err)
	}
	return nil
}

func (o *Options) Validate() error {
	s, l := o.Settings, o.Limits
	if s.Binning != 1 && s.Binning != 2 {
		return fmt.Errorf("argument -b/--binning: must be 1 or 2")
	}
	if s.Exposure <= 0 {
		return fmt.Errorf("argument -e/--exposure: must be > 0")
	}
	if l.MinGain > l.MaxGain || l.MinOffset > l.MaxOffset || l.MinExposure > l.MaxExposure {
		return fmt.Errorf("limits: min above max: %+v", l)
	}
	if s.Gain < l.MinGain || s.Gain > l.MaxGain {
		return fmt.Errorf("argument -g/--gain: must be %d ... %d", l.MinGain, l.MaxGain)
	}
	if s.Offset < l.MinOffset || s.Offset > l.MaxOffset {
		return fmt.Errorf("argument -o/--offset: must be %d ... %d", l.MinOffset, l.MaxOffset)
	}
	if o.Output == "" {
		return fmt.Errorf("argument -f/--file: must not be empty")
	}
	if ext := filepath.Ext(o.Output); !storage.IsSupported(ext) {
		return fmt.Errorf("argument -f/--file: unsupported format %q", ext)
	}
	if o.Quality < 1 || o.Quality > 100 {
		return fmt.Errorf("argument -quality: must be 1 ... 100")
	}
	if o.Interval < 0 || o.Count < 0 {
		return fmt.Errorf("arguments -i/-n: must be >= 0")
	}
	if o.Count == 0 && o.Interval == 0 {
		return fmt.Errorf("argument -n 0 (forever) needs an -i/--interval")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("argument -port: invalid port %d", o.Port)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("argument -timeout: must be > 0")
	}
	if o.Video != "" && o.FPS <= 0 {
		return fmt.Errorf("argument -fps: must be > 0")
	}
	if o.auto {
		a := o.Auto
		if a.Target <= 0 || a.Target >= 255 {
			return fmt.Errorf("argument -target: must be between 0 and 255")
		}
		if a.Tolerance <= 0 || a.Tolerance >= a.Target {
			return fmt.Errorf("argument -tolerance: must be > 0 and below -target")
		}
		if a.MaxTries <= 0 {
			return fmt.Errorf("argument -max-tries: must be > 0")
		}
	}
	return nil
}

func stringVar(fs *flag.FlagSet, p *string, usage, value string, names ...string) {
	for _, n := range names {
		fs.StringVar(p, n, value, usage)
	}
}

func intVar(fs *flag.FlagSet, p *int, usage string, value int, names ...string) {
	for _, n := range names {
		fs.IntVar(p, n, value, usage)
	}
}

func float64Var(fs *flag.FlagSet, p *float64, usage string, value float64, names ...string) {
	for _, n := range names {
		fs.Float64Var(p, n, value, usage)
	}
}

func boolVar(fs *flag.FlagSet, p *bool, usage string, value bool, names ...string) {
	for _, n := range names {
		fs.BoolVar(p, n, value, usage)
	}
}

func durationVar(fs *flag.FlagSet, p *time.Duration, usage string, value time.Duration, names ...string) {
	for _, n := range names {
		fs.DurationVar(p, n, value, usage)
	}
}
