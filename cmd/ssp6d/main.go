package main

import (
	"context"
	"fmt"
	"os"

	getopt "github.com/pborman/getopt/v2"

	"github.com/metacash/ssp6d/internal/bus"
	"github.com/metacash/ssp6d/internal/device"
	"github.com/metacash/ssp6d/internal/logging"
	"github.com/metacash/ssp6d/internal/serialport"
	"github.com/metacash/ssp6d/internal/ssp"
	"github.com/metacash/ssp6d/internal/supervisor"
)

const (
	defaultHost   = "127.0.0.1"
	defaultPort   = 6379
	defaultDevice = "/dev/ttyACM0"

	hopperAddress    = 0x10
	validatorAddress = 0x00
)

func main() {
	optHost := getopt.StringLong("host", 'h', defaultHost, "bus host")
	optPort := getopt.IntLong("port", 'p', defaultPort, "bus port")
	optDevice := getopt.StringLong("device", 'd', defaultDevice, "serial device path")
	getopt.Parse()

	log := logging.New("ssp6d")

	link, err := serialport.Open(*optDevice)
	hardwareAvailable := err == nil
	if err != nil {
		log.Warn("serial device unavailable, hardware commands will fail", "device", *optDevice, "error", err)
	}

	var hopper, validator *device.Device
	if hardwareAvailable {
		transport := ssp.NewTransport(link)
		hopper = device.New(hopperAddress, device.RoleHopper, "hopper", transport, log)
		validator = device.New(validatorAddress, device.RoleValidator, "validator", transport, log)

		if err := hopper.Init(); err != nil {
			log.Error("hopper init failed", "error", err)
			hopper = nil
		}
		if err := validator.Init(); err != nil {
			log.Error("validator init failed", "error", err)
			validator = nil
		}
	}

	b, err := bus.Dial(context.Background(), *optHost, *optPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssp6d: bus connection failed: %v\n", err)
		os.Exit(1)
	}

	sup := supervisor.New(supervisor.Config{
		Bus:       b,
		Hopper:    hopper,
		Validator: validator,
		Log:       log,
	})

	os.Exit(sup.Run())
}
