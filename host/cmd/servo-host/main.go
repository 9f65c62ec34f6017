package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"

	"servostep/host/canbus"
	"servostep/host/mcu"
	"servostep/host/mechaduino"
	"servostep/host/serial"
)

var (
	configPath = flag.String("config", "servo.yaml", "Servo config file")
	timeout    = flag.Duration("timeout", 5*time.Second, "Timeout for each MCU request")
	verbose    = flag.Bool("verbose", false, "Log link diagnostics")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "servo-host: ", log.LstdFlags)

	cfg, err := mechaduino.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal(err)
	}

	port, err := openPort(cfg)
	if err != nil {
		logger.Fatal(err)
	}
	linkLogger := log.New(io.Discard, "", 0)
	if *verbose {
		linkLogger = logger
	}
	m := mcu.New(port, linkLogger)
	defer func() {
		if err := m.Close(); err != nil {
			logger.Printf("close: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = m.Identify(ctx)
	cancel()
	if err != nil {
		logger.Fatalf("identify: %v", err)
	}

	servo, err := mechaduino.New(cfg, m, logger)
	if err != nil {
		logger.Fatal(err)
	}
	if err := withTimeout(servo.Configure); err != nil {
		logger.Fatalf("configure: %v", err)
	}

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" || args[0] == "q" {
			return
		}
		if err := run(m, servo, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Fatalf("reading input: %v", err)
	}
}

func openPort(cfg *mechaduino.Config) (io.ReadWriteCloser, error) {
	if cfg.CAN != nil {
		var uuid *[6]byte
		if cfg.CAN.UUID != "" {
			u, err := cfg.CAN.ParseUUID()
			if err != nil {
				return nil, err
			}
			uuid = &u
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		return canbus.Dial(ctx, cfg.CAN.Interface, cfg.CAN.NodeID, uuid)
	}
	return serial.Open(cfg.Serial)
}

func withTimeout(fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	return fn(ctx)
}

func run(m *mcu.MCU, servo *mechaduino.Servo, args []string) error {
	switch args[0] {
	case "help", "?":
		printHelp()
	case "dict":
		printDictionary(m.Dictionary())
	case "enable":
		return withTimeout(servo.Enable)
	case "disable":
		return withTimeout(servo.Disable)
	case "mode":
		if len(args) != 2 || (args[1] != mechaduino.ModeOpenLoop && args[1] != mechaduino.ModeHpid) {
			return fmt.Errorf("usage: mode open_loop|hpid")
		}
		servo.SetServoMode(args[1])
		return withTimeout(servo.Enable)
	case "torque":
		excite, amps, err := parseTorque(args[1:])
		if err != nil {
			return err
		}
		return withTimeout(func(ctx context.Context) error {
			return servo.SetTorque(ctx, excite, amps)
		})
	case "stats":
		return withTimeout(func(ctx context.Context) error {
			st, err := servo.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Servo Error: %d\nMax Loop Time: %d ticks\n", st.Error, st.MaxLoopTime)
			return nil
		})
	case "position":
		return withTimeout(func(ctx context.Context) error {
			step, err := servo.StepperPosition(ctx)
			if err != nil {
				return err
			}
			enc, err := servo.EncoderPosition(ctx)
			if err != nil {
				return err
			}
			st, err := servo.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Stepper Position: %d\nEncoder Position: %d\nServo Error: %d\n", step, enc, st.Error)
			return nil
		})
	case "calibrate":
		invert := len(args) > 1 && args[1] == "invert"
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		res, err := servo.Calibrate(ctx, invert)
		if err != nil {
			return err
		}
		fmt.Printf("Stddev=%.3f (%d queries), start step %d\n", res.Stddev, res.Queries, res.StartStep)
		fmt.Printf("Add to %s:\ninvert: %t\ncalibrate: [\n%s]\n", *configPath, res.Invert, mechaduino.FormatAngles(res.Angles))
		return withTimeout(func(ctx context.Context) error {
			return servo.ApplyCalibration(ctx, mechaduino.TableFromAngles(res.Angles, res.Invert))
		})
	case "send":
		if len(args) < 2 {
			return fmt.Errorf("usage: send <command> [name=value ...]")
		}
		return withTimeout(func(ctx context.Context) error {
			return m.SendText(ctx, args[1:])
		})
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", args[0])
	}
	return nil
}

func parseTorque(args []string) (uint32, float64, error) {
	if len(args) < 1 || len(args) > 2 {
		return 0, 0, fmt.Errorf("usage: torque <current A> [excite]")
	}
	amps, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("current: %w", err)
	}
	excite := uint64(64)
	if len(args) == 2 {
		excite, err = strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("excite: %w", err)
		}
	}
	return uint32(excite), amps, nil
}

func printDictionary(d *mcu.Dictionary) {
	fmt.Printf("Version: %s\nBuild: %s\n", d.Version, d.BuildVersions)
	commands, responses := d.Names()
	fmt.Printf("Commands (%d):\n", len(commands))
	for _, name := range commands {
		mf, _ := d.Lookup(name)
		fmt.Printf("  [%d] %s\n", mf.ID, mf.Format)
	}
	fmt.Printf("Responses (%d):\n", len(responses))
	for _, name := range responses {
		mf, _ := d.Lookup(name)
		fmt.Printf("  [%d] %s\n", mf.ID, mf.Format)
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  help                      - Show this help message")
	fmt.Println("  dict                      - Print the MCU dictionary")
	fmt.Println("  enable / disable          - Energize or release the motor")
	fmt.Println("  mode open_loop|hpid       - Select and enter a servo mode")
	fmt.Println("  torque <amps> [excite]    - Torque mode; 0 amps disables")
	fmt.Println("  stats                     - Servo error and loop time")
	fmt.Println("  position                  - Stepper and encoder positions")
	fmt.Println("  calibrate [invert]        - Measure the sensor over one turn")
	fmt.Println("  send <cmd> [k=v ...]      - Send a raw MCU command")
	fmt.Println("  quit/exit/q               - Exit the program")
	fmt.Println()
}
