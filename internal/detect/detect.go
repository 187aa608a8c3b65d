package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/ademuri/open-motion-light-manager/internal/device"
	"github.com/ademuri/open-motion-light-manager/internal/serial"
	"github.com/ademuri/open-motion-light-manager/internal/stm32"
)

// Result describes a detected STM32 bootloader device.
type Result struct {
	Port      string
	ProductID uint16
	Version   byte
}

// signal settle time between DTR/RTS transitions during probing.
const settleDelay = 50 * time.Millisecond

// DetectDevice scans the available ports and returns the first one with
// a responding STM32 bootloader.
func DetectDevice(ctx context.Context, baud int) (*Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, portName := range ports {
		result, err := Probe(ctx, portName, baud)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("no STM32 bootloader found (last error: %w)", lastErr)
	}
	return nil, fmt.Errorf("no STM32 bootloader found")
}

// ListDevices probes every port and returns all responding devices.
func ListDevices(ctx context.Context, baud int) ([]Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, portName := range ports {
		result, err := Probe(ctx, portName, baud)
		if err == nil {
			results = append(results, *result)
		}
	}
	return results, nil
}

// Probe opens a port, forces the target into bootloader mode, and asks
// it to identify itself. The target is reset back into application mode
// before the port is closed.
func Probe(ctx context.Context, portName string, baud int) (*Result, error) {
	session, err := device.Open(serial.Options{Name: portName, Baud: baud})
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := enterBootloader(session.Conn); err != nil {
		return nil, fmt.Errorf("failed to enter bootloader on %s: %w", portName, err)
	}
	// Leave the target running its application even if probing fails.
	defer resetToApplication(session.Conn)

	result := &Result{Port: portName}
	err = session.Sched.Run(ctx, func(ctx context.Context) error {
		if err := session.Boot.Init(ctx); err != nil {
			return err
		}
		pid, err := session.Boot.GetProductID(ctx)
		if err != nil {
			return err
		}
		version, err := session.Boot.GetVersion(ctx)
		if err != nil {
			return err
		}
		result.ProductID = pid
		result.Version = version
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("no bootloader on %s: %w", portName, err)
	}
	return result, nil
}

// ChipName returns a human-readable name for a product ID.
func ChipName(pid uint16) string {
	switch pid {
	case stm32.MotionLight.ProductID:
		return "STM32L0 (motion light)"
	default:
		return fmt.Sprintf("STM32 (product ID 0x%04X)", pid)
	}
}

func enterBootloader(conn *serial.Conn) error {
	for _, s := range [][2]bool{{false, false}, {false, true}, {false, false}} {
		if err := conn.SetSignals(s[0], s[1]); err != nil {
			return err
		}
		time.Sleep(settleDelay)
	}
	return conn.FlushInput()
}

func resetToApplication(conn *serial.Conn) {
	for _, s := range [][2]bool{{true, false}, {true, true}, {true, false}} {
		if conn.SetSignals(s[0], s[1]) != nil {
			return
		}
		time.Sleep(settleDelay)
	}
}
