package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// hdopToMeters approximates horizontal accuracy from HDOP using a typical
// consumer receiver range error.
const hdopToMeters = 5.0

// NMEAConfig holds configuration for a serial NMEA 0183 receiver
type NMEAConfig struct {
	PortPath          string        `yaml:"port_path" json:"portPath"`
	BaudRate          int           `yaml:"baud_rate" json:"baudRate"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" json:"reconnectInterval"`
}

type openFunc func(path string, mode *serial.Mode) (io.ReadCloser, error)

// NMEA reads RMC/GGA sentences from a serial GPS and reports them as fixes
// under the GPS provider name.
type NMEA struct {
	cfg       NMEAConfig
	open      openFunc
	hub       *hub
	connected atomic.Bool
	logger    zerolog.Logger

	mu       sync.Mutex
	altitude *float64
	accuracy *float64
}

// NewNMEA creates a serial GPS provider. Call Run to start reading.
func NewNMEA(cfg NMEAConfig, logger zerolog.Logger) *NMEA {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	return &NMEA{
		cfg: cfg,
		open: func(path string, mode *serial.Mode) (io.ReadCloser, error) {
			return serial.Open(path, mode)
		},
		hub:    newHub(),
		logger: logger.With().Str("provider", ProviderGPS).Str("port", cfg.PortPath).Logger(),
	}
}

func (n *NMEA) Name() string { return ProviderGPS }

// Enabled reports whether the serial port is currently open
func (n *NMEA) Enabled() bool { return n.connected.Load() }

func (n *NMEA) LastKnown() (Fix, bool) { return n.hub.lastKnown() }

func (n *NMEA) Updates(ctx context.Context) (<-chan Fix, error) {
	if !n.Enabled() {
		return nil, ErrNoProvider
	}
	return n.hub.subscribe(ctx), nil
}

// Run keeps the serial port open until ctx is done, reconnecting after
// read errors. Permission errors are logged on every attempt.
func (n *NMEA) Run(ctx context.Context) error {
	for {
		err := n.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		n.logger.Warn().Err(err).Dur("retry_in", n.cfg.ReconnectInterval).Msg("GPS serial session ended")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(n.cfg.ReconnectInterval):
		}
	}
}

func (n *NMEA) session(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: n.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := n.open(n.cfg.PortPath, mode)
	if err != nil {
		return classifySerialError(n.cfg.PortPath, err)
	}

	n.connected.Store(true)
	defer n.connected.Store(false)
	n.logger.Info().Int("baud", n.cfg.BaudRate).Msg("GPS serial port opened")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = port.Close()
	}()

	return n.Consume(port)
}

func classifySerialError(path string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PermissionDenied {
		return fmt.Errorf("open %s: %w", path, ErrPermissionDenied)
	}
	return fmt.Errorf("open %s: %w", path, err)
}

// Consume parses NMEA sentences from r until it is exhausted. RMC sentences
// with an active status produce a fix; GGA sentences supply altitude and
// HDOP-derived accuracy for the fixes that follow.
func (n *NMEA) Consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}

		sentence, err := nmea.Parse(line)
		if err != nil {
			n.logger.Debug().Err(err).Str("line", line).Msg("Skipping NMEA sentence")
			continue
		}

		switch sentence.DataType() {
		case nmea.TypeGGA:
			gga := sentence.(nmea.GGA)
			if gga.FixQuality == "0" {
				continue
			}
			n.mu.Lock()
			n.altitude = Float(gga.Altitude)
			if gga.HDOP > 0 {
				n.accuracy = Float(gga.HDOP * hdopToMeters)
			}
			n.mu.Unlock()

		case nmea.TypeRMC:
			rmc := sentence.(nmea.RMC)
			if rmc.Validity != nmea.ValidRMC {
				continue
			}
			n.mu.Lock()
			fix := Fix{
				Latitude:  rmc.Latitude,
				Longitude: rmc.Longitude,
				Altitude:  n.altitude,
				Accuracy:  n.accuracy,
				Provider:  ProviderGPS,
				Time:      time.Now().UTC(),
			}
			n.mu.Unlock()
			if err := n.hub.publish(fix); err != nil {
				n.logger.Warn().Err(err).Msg("Dropping malformed GPS fix")
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
