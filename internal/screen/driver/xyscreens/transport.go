package xyscreens

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// Transport delivers a command payload to the device. The protocol is one
// way, so delivery success says nothing about execution.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
}

// SerialTransport drives the RS-485 interface the screen is wired to. The
// port is opened per command; the device is fire-and-forget and keeping the
// port open between commands buys nothing.
type SerialTransport struct {
	port string
}

func NewSerialTransport(port string) (*SerialTransport, error) {
	if port == "" {
		return nil, errors.New("serial port not set")
	}

	return &SerialTransport{port: port}, nil
}

func (t *SerialTransport) conf() *serial.Config {
	return &serial.Config{
		Name:        t.port,
		Baud:        2400,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: time.Second,
	}
}

func (t *SerialTransport) open() (*serial.Port, error) {
	var conn *serial.Port

	op := func() error {
		var err error
		conn, err = serial.OpenPort(t.conf())
		return err
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (t *SerialTransport) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := t.open()
	if err != nil {
		return errors.Wrapf(err, "unable to connect to device %s", t.port)
	}
	logrus.Debugf("%s: device connected", t.port)

	defer func() {
		if err := conn.Close(); err != nil {
			logrus.Errorf("%s: close failed: %s", t.port, err)
		}
	}()

	logrus.Debugf("%s: sending 0x%x", t.port, payload)
	if _, err := conn.Write(payload); err != nil {
		return errors.Wrapf(err, "error while writing to device %s", t.port)
	}

	return nil
}
