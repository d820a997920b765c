// Command servoctl drives every bin flap open or closed, for maintenance and
// calibration.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"recycling-sorter/config"
	"recycling-sorter/internal/servo"
)

func main() {
	configPath := flag.String("config", "", "Path to the configuration file (or use CONFIG_PATH env var)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config path] open|close\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	position := flag.Arg(0)
	if position != "open" && position != "close" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	driver, err := servo.OpenDriver(cfg.Servo)
	if err != nil {
		log.Fatalf("failed to open servo driver: %v", err)
	}
	bank, err := servo.NewBankFromConfig(cfg, driver)
	if err != nil {
		log.Fatalf("failed to configure servos: %v", err)
	}
	defer bank.CloseDriver()

	if position == "open" {
		log.Println("Opening all flaps...")
		err = bank.OpenAll()
	} else {
		log.Println("Closing all flaps...")
		err = bank.ParkAll()
	}
	if err != nil {
		bank.CloseDriver()
		log.Fatalf("not every flap moved: %v", err)
	}
	log.Println("Done.")
}

// loadConfig reads the sorter configuration, falling back to the built-in
// wiring when no file exists at the default location.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "./config/config.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}
