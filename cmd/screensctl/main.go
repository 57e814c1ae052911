package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jkaflik/screens2mqtt/internal/screen"
	"github.com/jkaflik/screens2mqtt/internal/screen/driver/xyscreens"
	"github.com/sirupsen/logrus"
)

// screensctl drives a single screen from the command line:
//
//	screensctl -port /dev/ttyUSB0 [-address AAEEEE] [-wait 1m] <action>
//
// where action is up, down, stop, micro-up, micro-down, program or
// position <0..100>.
func main() {
	port := flag.String("port", "", "serial port of the RS-485 interface")
	address := flag.String("address", "AAEEEE", "hex encoded screen address")
	wait := flag.Duration("wait", time.Minute, "full travel duration")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	action := flag.Arg(0)
	if action == "" {
		logrus.Fatal("no action given")
	}

	addr, err := hex.DecodeString(*address)
	if err != nil {
		logrus.Fatalf("%s is not a valid hex screen address", *address)
	}

	transport, err := xyscreens.NewSerialTransport(*port)
	if err != nil {
		logrus.Fatal(err)
	}

	ctx := context.Background()

	if err := run(ctx, transport, addr, *wait, action, flag.Arg(1)); err != nil {
		logrus.Fatal(err)
	}
}

func run(ctx context.Context, transport xyscreens.Transport, address []byte, wait time.Duration, action, arg string) error {
	switch action {
	case "up":
		s, err := xyscreens.New("screen", transport, address, wait, 0, 100)
		if err != nil {
			return err
		}
		if _, err := s.Up(ctx); err != nil {
			return err
		}
		watch(s, screen.Up)
	case "down":
		s, err := xyscreens.New("screen", transport, address, wait, 0, 0)
		if err != nil {
			return err
		}
		if _, err := s.Down(ctx); err != nil {
			return err
		}
		watch(s, screen.Down)
	case "position":
		target, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("%q is not a valid target position", arg)
		}
		s, err := xyscreens.New("screen", transport, address, wait, 0, 0)
		if err != nil {
			return err
		}
		if _, err := s.SetPosition(ctx, target); err != nil {
			return err
		}
	case "stop":
		s, err := xyscreens.New("screen", transport, address, wait, 0, 0)
		if err != nil {
			return err
		}
		if _, err := s.Stop(ctx); err != nil {
			return err
		}
	case "micro-up", "micro-down", "program":
		s, err := xyscreens.New("screen", transport, address, wait, 0, 0)
		if err != nil {
			return err
		}
		switch action {
		case "micro-up":
			return s.MicroUp(ctx)
		case "micro-down":
			return s.MicroDown(ctx)
		case "program":
			return s.Program(ctx)
		}
	default:
		return fmt.Errorf("%s is not a supported action", action)
	}

	return nil
}

// watch prints the estimate until the screen settles in the wanted state.
func watch(s *xyscreens.Screen, until screen.State) {
	for {
		state, position := s.Status()
		fmt.Fprintf(os.Stdout, "%-8s: %5.1f %%\r", state, position)
		if state == until {
			fmt.Fprintln(os.Stdout)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}
