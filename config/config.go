package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	GPIO       GPIOConfig       `yaml:"gpio"`
	Bins       BinsConfig       `yaml:"bins"`
	Servo      ServoConfig      `yaml:"servo"`
	Camera     CameraConfig     `yaml:"camera"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Climate    ClimateConfig    `yaml:"climate"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ControllerConfig holds the control loop timing.
type ControllerConfig struct {
	TickMillis             int           `yaml:"tick_millis"`
	Tick                   time.Duration `yaml:"-"`
	DetectionSeconds       float64       `yaml:"detection_seconds"`
	DetectionDuration      time.Duration `yaml:"-"`
	CooldownSeconds        float64       `yaml:"cooldown_seconds"`
	Cooldown               time.Duration `yaml:"-"`
	BinFullSeconds         float64       `yaml:"bin_full_seconds"`
	BinFullThreshold       time.Duration `yaml:"-"`
	ClimatePersistSeconds  int           `yaml:"climate_persist_seconds"`
	ClimatePersistInterval time.Duration `yaml:"-"`
}

// GPIOConfig describes the presence sensor in front of the camera.
type GPIOConfig struct {
	PresencePin       uint  `yaml:"presence_pin"`
	PresenceActiveLow *bool `yaml:"presence_active_low"`
}

// BinsConfig holds the per-bin wiring, keyed by bin name.
type BinsConfig struct {
	Paper   BinConfig `yaml:"paper"`
	Plastic BinConfig `yaml:"plastic"`
	Metal   BinConfig `yaml:"metal"`
	Trash   BinConfig `yaml:"trash"`
}

// BinConfig wires one bin. Enabled only controls fullness monitoring; the
// servo is always driven.
type BinConfig struct {
	Enabled         bool  `yaml:"enabled"`
	SensorPin       uint  `yaml:"sensor_pin"`
	SensorActiveLow *bool `yaml:"sensor_active_low"`
	ServoChannel    int   `yaml:"servo_channel"`
}

// ServoConfig holds the actuator driver and flap geometry.
type ServoConfig struct {
	Driver          string        `yaml:"driver"` // "sysfs" or "maestro"
	PWMChip         int           `yaml:"pwm_chip"`
	SerialPort      string        `yaml:"serial_port"`
	BaudRate        int           `yaml:"baud_rate"`
	ClosedAngle     float64       `yaml:"closed_angle"`
	OpenAngle       float64       `yaml:"open_angle"`
	DiverterAngle   float64       `yaml:"diverter_angle"`
	SettleMillis    int           `yaml:"settle_millis"`
	Settle          time.Duration `yaml:"-"`
	HoldMillis      int           `yaml:"hold_millis"`
	Hold            time.Duration `yaml:"-"`
	ParkDelayMillis int           `yaml:"park_delay_millis"`
	ParkDelay       time.Duration `yaml:"-"`
	ParkOrder       []string      `yaml:"park_order"`
}

// CameraConfig describes how a still frame is captured.
type CameraConfig struct {
	Command     string        `yaml:"command"`
	Args        []string      `yaml:"args"`
	ImagePath   string        `yaml:"image_path"`
	TimeoutSecs int           `yaml:"timeout_seconds"`
	Timeout     time.Duration `yaml:"-"`
}

// ClassifierConfig describes the on-device model.
type ClassifierConfig struct {
	ModelPath    string   `yaml:"model_path"`
	InputWidth   int      `yaml:"input_width"`
	InputHeight  int      `yaml:"input_height"`
	Layout       string   `yaml:"layout"` // "nhwc" or "nchw"
	CropFraction float64  `yaml:"crop_fraction"`
	Threshold    float64  `yaml:"threshold"`
	Labels       []string `yaml:"labels"`
	CroppedPath  string   `yaml:"cropped_path"`
}

// ClimateConfig points at the IIO sysfs nodes of the humidity sensor.
type ClimateConfig struct {
	TemperaturePath string `yaml:"temperature_path"`
	HumidityPath    string `yaml:"humidity_path"`
	Window          int    `yaml:"window"`
}

// TelemetryConfig holds the MQTT dashboard connection.
type TelemetryConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Broker           string        `yaml:"broker"`
	ClientID         string        `yaml:"client_id"`
	AccessToken      string        `yaml:"access_token"`
	Topic            string        `yaml:"topic"`
	QoS              int           `yaml:"qos"`
	QueueSize        int           `yaml:"queue_size"`
	KeepAliveSeconds int           `yaml:"keepalive_seconds"`
	KeepAlive        time.Duration `yaml:"-"`
}

// SnapshotConfig controls the file hand-off for an out-of-process UI.
type SnapshotConfig struct {
	MirrorFiles bool   `yaml:"mirror_files"`
	Dir         string `yaml:"dir"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // "sqlite" or "postgres"
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, matching the
// reference wiring of the sorter (only the metal bin monitored).
func Default() *Config {
	cfg := &Config{
		GPIO: GPIOConfig{PresencePin: 14},
		Bins: BinsConfig{
			Paper:   BinConfig{SensorPin: 20, ServoChannel: 0},
			Plastic: BinConfig{SensorPin: 16, ServoChannel: 1},
			Metal:   BinConfig{Enabled: true, SensorPin: 17, ServoChannel: 2},
			Trash:   BinConfig{SensorPin: 27, ServoChannel: 3},
		},
		Telemetry: TelemetryConfig{Enabled: true},
		Server:    ServerConfig{Enabled: true},
		Snapshot:  SnapshotConfig{MirrorFiles: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field and derives the duration fields.
func (cfg *Config) ApplyDefaults() {
	c := &cfg.Controller
	if c.TickMillis <= 0 {
		c.TickMillis = 1000
	}
	c.Tick = time.Duration(c.TickMillis) * time.Millisecond
	if c.DetectionSeconds <= 0 {
		c.DetectionSeconds = 1
	}
	c.DetectionDuration = seconds(c.DetectionSeconds)
	if c.CooldownSeconds <= 0 {
		c.CooldownSeconds = 5
	}
	c.Cooldown = seconds(c.CooldownSeconds)
	if c.BinFullSeconds <= 0 {
		c.BinFullSeconds = 5
	}
	c.BinFullThreshold = seconds(c.BinFullSeconds)
	if c.ClimatePersistSeconds <= 0 {
		c.ClimatePersistSeconds = 60
	}
	c.ClimatePersistInterval = time.Duration(c.ClimatePersistSeconds) * time.Second

	if cfg.GPIO.PresenceActiveLow == nil {
		cfg.GPIO.PresenceActiveLow = boolPtr(true)
	}
	for _, b := range []*BinConfig{&cfg.Bins.Paper, &cfg.Bins.Plastic, &cfg.Bins.Metal, &cfg.Bins.Trash} {
		if b.SensorActiveLow == nil {
			b.SensorActiveLow = boolPtr(true)
		}
	}

	s := &cfg.Servo
	if s.Driver == "" {
		s.Driver = "sysfs"
	}
	if s.BaudRate <= 0 {
		s.BaudRate = 9600
	}
	if s.ClosedAngle == 0 {
		s.ClosedAngle = 80
	}
	// OpenAngle defaults to 0, which is also its zero value.
	if s.DiverterAngle == 0 {
		s.DiverterAngle = 160
	}
	if s.SettleMillis <= 0 {
		s.SettleMillis = 1000
	}
	s.Settle = time.Duration(s.SettleMillis) * time.Millisecond
	if s.HoldMillis <= 0 {
		s.HoldMillis = 2000
	}
	s.Hold = time.Duration(s.HoldMillis) * time.Millisecond
	if s.ParkDelayMillis <= 0 {
		s.ParkDelayMillis = 3000
	}
	s.ParkDelay = time.Duration(s.ParkDelayMillis) * time.Millisecond
	if len(s.ParkOrder) == 0 {
		s.ParkOrder = []string{"metal", "plastic", "paper", "trash"}
	}

	cam := &cfg.Camera
	if cam.Command == "" {
		cam.Command = "rpicam-still"
		cam.Args = []string{"--nopreview", "--immediate", "-o", "{output}"}
	}
	if cam.ImagePath == "" {
		cam.ImagePath = "object.jpg"
	}
	if cam.TimeoutSecs <= 0 {
		cam.TimeoutSecs = 10
	}
	cam.Timeout = time.Duration(cam.TimeoutSecs) * time.Second

	cl := &cfg.Classifier
	if cl.ModelPath == "" {
		cl.ModelPath = "garbage_classification.onnx"
	}
	if cl.InputWidth <= 0 {
		cl.InputWidth = 224
	}
	if cl.InputHeight <= 0 {
		cl.InputHeight = 224
	}
	if cl.Layout == "" {
		cl.Layout = "nhwc"
	}
	if cl.CropFraction <= 0 || cl.CropFraction > 1 {
		cl.CropFraction = 0.65
	}
	if cl.Threshold <= 0 {
		cl.Threshold = 0.3
	}
	if cl.CroppedPath == "" {
		cl.CroppedPath = "cropped.jpg"
	}

	cli := &cfg.Climate
	if cli.TemperaturePath == "" {
		cli.TemperaturePath = "/sys/bus/iio/devices/iio:device0/in_temp_input"
	}
	if cli.HumidityPath == "" {
		cli.HumidityPath = "/sys/bus/iio/devices/iio:device0/in_humidityrelative_input"
	}
	if cli.Window <= 0 {
		cli.Window = 10
	}

	t := &cfg.Telemetry
	if t.Broker == "" {
		t.Broker = "demo.thingsboard.io:1883"
	}
	if t.ClientID == "" {
		t.ClientID = "recycling-sorter"
	}
	if t.Topic == "" {
		t.Topic = "v1/devices/me/telemetry"
	}
	if t.QueueSize <= 0 {
		t.QueueSize = 64
	}
	if t.KeepAliveSeconds <= 0 {
		t.KeepAliveSeconds = 60
	}
	t.KeepAlive = time.Duration(t.KeepAliveSeconds) * time.Second

	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = "."
	}

	srv := &cfg.Server
	if srv.Port <= 0 {
		srv.Port = 8080
	}
	if srv.RateLimitPerSec <= 0 {
		srv.RateLimitPerSec = 10
	}
	if srv.RateLimitBurst <= 0 {
		srv.RateLimitBurst = 5
	}
	if srv.CacheTTLSeconds <= 0 {
		srv.CacheTTLSeconds = 5
	}

	db := &cfg.Database
	if db.Driver == "" {
		db.Driver = "sqlite"
	}
	if db.DSN == "" && db.Driver == "sqlite" {
		db.DSN = "recycling.db"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
}

// Validate rejects configurations the hardware cannot honour.
func (cfg *Config) Validate() error {
	s := cfg.Servo
	for name, angle := range map[string]float64{
		"closed_angle":   s.ClosedAngle,
		"open_angle":     s.OpenAngle,
		"diverter_angle": s.DiverterAngle,
	} {
		if angle < 0 || angle > 180 {
			return fmt.Errorf("servo.%s must be within [0,180], got %v", name, angle)
		}
	}
	switch s.Driver {
	case "sysfs", "maestro":
	default:
		return fmt.Errorf("unknown servo.driver %q", s.Driver)
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database.driver %q", cfg.Database.Driver)
	}
	if cfg.Telemetry.QoS < 0 || cfg.Telemetry.QoS > 1 {
		return fmt.Errorf("telemetry.qos must be 0 or 1, got %d", cfg.Telemetry.QoS)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func boolPtr(b bool) *bool { return &b }
