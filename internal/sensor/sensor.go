package sensor

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/brian-armstrong/gpio"

	"recycling-sorter/config"
	"recycling-sorter/internal/bins"
)

// ErrSensor is returned when a climate reading cannot be taken.
var ErrSensor = errors.New("sensor read failed")

// Pin is a digital input line.
type Pin interface {
	Read() (uint, error)
	Close()
}

// Input is a digital input with its active level resolved.
type Input struct {
	Name      string
	Pin       Pin
	ActiveLow bool
}

// Active reports whether the input is at its active level. Read errors are
// logged and read as inactive.
func (in Input) Active() bool {
	if in.Pin == nil {
		return false
	}
	v, err := in.Pin.Read()
	if err != nil {
		log.Printf("sensor %s: read error: %v", in.Name, err)
		return false
	}
	if in.ActiveLow {
		return v == 0
	}
	return v != 0
}

// Climate is one temperature/humidity reading.
type Climate struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Reader polls the presence sensor, the bin fill sensors and the climate sensor.
type Reader struct {
	presence        Input
	bins            map[bins.ID]Input
	temperaturePath string
	humidityPath    string
}

// NewReader assembles a Reader from already opened inputs.
func NewReader(presence Input, binInputs map[bins.ID]Input, temperaturePath, humidityPath string) *Reader {
	return &Reader{
		presence:        presence,
		bins:            binInputs,
		temperaturePath: temperaturePath,
		humidityPath:    humidityPath,
	}
}

// Open exports the configured GPIO lines as inputs. Bin sensors are opened
// only for enabled bins.
func Open(cfg *config.Config) *Reader {
	presence := Input{
		Name:      "presence",
		Pin:       gpio.NewInput(cfg.GPIO.PresencePin),
		ActiveLow: *cfg.GPIO.PresenceActiveLow,
	}
	binInputs := make(map[bins.ID]Input)
	for id, bc := range BinConfigs(cfg) {
		if !bc.Enabled {
			continue
		}
		binInputs[id] = Input{
			Name:      id.String(),
			Pin:       gpio.NewInput(bc.SensorPin),
			ActiveLow: *bc.SensorActiveLow,
		}
	}
	return NewReader(presence, binInputs, cfg.Climate.TemperaturePath, cfg.Climate.HumidityPath)
}

// BinConfigs indexes the per-bin configuration by bin.
func BinConfigs(cfg *config.Config) map[bins.ID]config.BinConfig {
	return map[bins.ID]config.BinConfig{
		bins.Paper:   cfg.Bins.Paper,
		bins.Plastic: cfg.Bins.Plastic,
		bins.Metal:   cfg.Bins.Metal,
		bins.Trash:   cfg.Bins.Trash,
	}
}

// ReadPresence reports whether an item is in front of the camera.
func (r *Reader) ReadPresence() bool {
	return r.presence.Active()
}

// ReadBinSensor reports whether the bin's fill sensor detects a full bin.
// Bins without a sensor always read not full.
func (r *Reader) ReadBinSensor(id bins.ID) bool {
	in, ok := r.bins[id]
	if !ok {
		return false
	}
	return in.Active()
}

// ReadClimate reads temperature (°C) and relative humidity (%).
func (r *Reader) ReadClimate() (Climate, error) {
	temp, err := readMilli(r.temperaturePath)
	if err != nil {
		return Climate{}, err
	}
	hum, err := readMilli(r.humidityPath)
	if err != nil {
		return Climate{}, err
	}
	return Climate{Temperature: temp, Humidity: hum}, nil
}

// Close releases every GPIO line.
func (r *Reader) Close() {
	if r.presence.Pin != nil {
		r.presence.Pin.Close()
	}
	for _, in := range r.bins {
		if in.Pin != nil {
			in.Pin.Close()
		}
	}
}

// readMilli reads an IIO sysfs value expressed in milli-units.
func readMilli(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSensor, err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrSensor, path, err)
	}
	return Round2(v / 1000), nil
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
