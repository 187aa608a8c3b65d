package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ademuri/open-motion-light-manager/internal/detect"
	"github.com/ademuri/open-motion-light-manager/internal/device"
	"github.com/ademuri/open-motion-light-manager/internal/flasher"
	"github.com/ademuri/open-motion-light-manager/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag    string
	baudFlag    int
	protectFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "motion-light-manager",
		Short: "Manage STM32-based motion light devices over USB serial",
		Long: `Motion Light Manager flashes firmware to the motion light's STM32
microcontroller through its built-in USART bootloader and talks to the
running application to read and write configuration.`,
	}

	flashCmd := &cobra.Command{
		Use:   "flash <firmware.bin>",
		Short: "Flash firmware to the device",
		Long: `Flash a firmware image to the device.

The device is reset into bootloader mode via the DTR/RTS lines, erased,
programmed, verified byte for byte, and reset back into the application.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	flashCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	flashCmd.Flags().IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate")
	flashCmd.Flags().BoolVar(&protectFlag, "protect", false, "Re-enable write protection after flashing")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show device info",
		Long:  "Detect a connected motion light and show its bootloader identification.",
		RunE:  runInfo,
	}
	infoCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	infoCmd.Flags().IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate")

	requestCmd := &cobra.Command{
		Use:   "request <hex-payload>",
		Short: "Send a raw settings request to the running application",
		Long: `Send a raw request frame to the application firmware and print the
response payload as hex. The payload is a hex string of at most 127
bytes; an empty string sends an empty request.`,
		Args: cobra.ExactArgs(1),
		RunE: runRequest,
	}
	requestCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port")
	requestCmd.Flags().IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate")
	requestCmd.MarkFlagRequired("port")

	portsCmd := &cobra.Command{
		Use:   "ports",
		Short: "List available serial ports",
		RunE:  runPorts,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("motion-light-manager %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(flashCmd, infoCmd, requestCmd, portsCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFlash(cmd *cobra.Command, args []string) error {
	firmware, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read firmware file: %w", err)
	}
	fmt.Printf("Firmware: %s (%d bytes)\n", args[0], len(firmware))

	portName, err := resolvePort()
	if err != nil {
		return err
	}

	session, err := device.Open(serial.Options{Name: portName, Baud: baudFlag})
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer session.Close()

	fmt.Printf("Port: %s @ %d baud\n", portName, baudFlag)

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionClearOnFinish(),
	)

	lastPhase := flasher.Phase("")
	f := flasher.New(session.Conn, session.Sched, session.Boot,
		flasher.WithWriteProtect(protectFlag),
		flasher.WithProgressCallback(func(p flasher.Progress) {
			if p.Phase != lastPhase {
				lastPhase = p.Phase
				bar.Describe(string(p.Phase))
			}
			bar.Set(p.Percent)
		}),
	)

	// Ctrl-C cancels the flash; the device is still reset so it is
	// left runnable.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := f.Flash(ctx, firmware); err != nil {
		bar.Finish()
		if ctx.Err() != nil {
			fmt.Println("\nFlash cancelled")
		}
		return err
	}

	bar.Finish()
	fmt.Println("\nFlash complete!")
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if portFlag != "" {
		result, err := detect.Probe(ctx, portFlag, baudFlag)
		if err != nil {
			return err
		}
		printDeviceInfo(result)
		return nil
	}

	fmt.Println("Scanning for devices...")
	devices, err := detect.ListDevices(ctx, baudFlag)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No motion light devices found")
		return nil
	}

	fmt.Printf("Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Printf("Device %d:\n", i+1)
		printDeviceInfo(&d)
		fmt.Println()
	}
	return nil
}

func printDeviceInfo(d *detect.Result) {
	fmt.Printf("  Port:       %s\n", d.Port)
	fmt.Printf("  Chip:       %s\n", detect.ChipName(d.ProductID))
	fmt.Printf("  Product ID: 0x%04X\n", d.ProductID)
	fmt.Printf("  Bootloader: %d.%d\n", d.Version>>4, d.Version&0x0F)
}

func runRequest(cmd *cobra.Command, args []string) error {
	payload, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("invalid hex payload: %w", err)
	}

	session, err := device.Open(serial.Options{Name: portFlag, Baud: baudFlag})
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var resp []byte
	err = session.Sched.Run(ctx, func(ctx context.Context) error {
		var err error
		resp, err = session.Settings.Exchange(ctx, payload)
		return err
	})
	if err != nil {
		return err
	}

	if len(resp) == 0 {
		fmt.Println("(empty response)")
		return nil
	}
	fmt.Printf("%s\n", hex.EncodeToString(resp))
	return nil
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

func resolvePort() (string, error) {
	if portFlag != "" {
		return portFlag, nil
	}
	fmt.Println("Detecting device...")
	result, err := detect.DetectDevice(context.Background(), baudFlag)
	if err != nil {
		return "", fmt.Errorf("device detection failed: %w", err)
	}
	fmt.Printf("Found %s on %s\n", detect.ChipName(result.ProductID), result.Port)
	return result.Port, nil
}
