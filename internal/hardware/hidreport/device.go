// Package hidreport reads and writes raw HID reports over USB interrupt
// endpoints, serving as the keypad cdu.ReportSource.
//
// The keypad controller is opened by vendor and product ID. Reads wait at
// most ReadTimeout, so an idle device reports "none available" instead of
// blocking the bridge loop.
package hidreport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/gousb"

	"github.com/nerrad567/cockpit-bridge/internal/cdu"
)

// Keypad controller defaults.
const (
	DefaultVendorID  = 0x1FD1
	DefaultProductID = 0x03EA

	defaultInterface   = 0
	defaultInEndpoint  = 0x81
	defaultReadTimeout = 5 * time.Millisecond
	defaultReportSize  = 64
)

// HID class request used when the device has no interrupt OUT endpoint.
const (
	requestTypeClassOut = 0x21
	requestSetReport    = 0x09
	reportTypeOutput    = 0x02
)

// Errors returned by Open.
var (
	ErrDeviceNotFound = errors.New("hidreport: device not found")
	ErrClosed         = errors.New("hidreport: device closed")
)

// Config selects and configures the device.
type Config struct {
	VendorID  uint16
	ProductID uint16

	// Interface is the HID interface number. Default: 0.
	Interface int

	// InEndpoint is the interrupt IN endpoint address. Default: 0x81.
	InEndpoint int

	// OutEndpoint is the interrupt OUT endpoint address. Zero sends
	// output reports with SET_REPORT on the control pipe.
	OutEndpoint int

	// ReadTimeout bounds one ReadReport. Default: 5ms.
	ReadTimeout time.Duration
}

// Stats holds transfer counters.
type Stats struct {
	ReportsIn  uint64
	ReportsOut uint64
	Errors     uint64
}

// Device is an open HID device.
//
// Thread Safety:
//   - Not safe for concurrent use; owned by the bridge loop.
type Device struct {
	cfg Config

	ctx  *gousb.Context
	dev  *gousb.Device
	conf *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
	buf  []byte

	closed bool

	reportsIn  atomic.Uint64
	reportsOut atomic.Uint64
	errors     atomic.Uint64
}

// Compile-time check that Device satisfies cdu.ReportSource.
var _ cdu.ReportSource = (*Device)(nil)

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.VendorID == 0 {
		c.VendorID = DefaultVendorID
	}
	if c.ProductID == 0 {
		c.ProductID = DefaultProductID
	}
	if c.InEndpoint == 0 {
		c.InEndpoint = defaultInEndpoint
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
}

// Open finds the first matching device and claims its HID interface.
//
// Returns:
//   - *Device: Ready for ReadReport/WriteReport
//   - error: ErrDeviceNotFound, or a USB error while claiming the interface
func Open(cfg Config) (*Device, error) {
	cfg.ApplyDefaults()

	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == cfg.VendorID && uint16(desc.Product) == cfg.ProductID
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("enumerating USB devices: %w", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("%w: VID=0x%04X PID=0x%04X", ErrDeviceNotFound, cfg.VendorID, cfg.ProductID)
	}

	dev := devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}

	d := &Device{cfg: cfg, ctx: ctx, dev: dev}

	// The kernel HID driver owns the interface until detached.
	if err := dev.SetAutoDetach(true); err != nil {
		d.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("enabling kernel driver detach: %w", err)
	}

	d.conf, err = dev.Config(1)
	if err != nil {
		d.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("selecting config 1: %w", err)
	}

	d.intf, err = d.conf.Interface(cfg.Interface, 0)
	if err != nil {
		d.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("claiming interface %d: %w", cfg.Interface, err)
	}

	d.in, err = d.intf.InEndpoint(cfg.InEndpoint)
	if err != nil {
		d.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("opening IN endpoint 0x%02X: %w", cfg.InEndpoint, err)
	}

	if cfg.OutEndpoint != 0 {
		d.out, err = d.intf.OutEndpoint(cfg.OutEndpoint)
		if err != nil {
			d.Close() //nolint:errcheck // Already failing
			return nil, fmt.Errorf("opening OUT endpoint 0x%02X: %w", cfg.OutEndpoint, err)
		}
	}

	size := d.in.Desc.MaxPacketSize
	if size <= 0 {
		size = defaultReportSize
	}
	d.buf = make([]byte, size)

	return d, nil
}

// ReadReport returns the next input report, or ok=false if none arrived
// within ReadTimeout.
func (d *Device) ReadReport() ([]byte, bool, error) {
	if d.closed || d.in == nil {
		return nil, false, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ReadTimeout)
	defer cancel()

	n, err := d.in.ReadContext(ctx, d.buf)
	if err != nil {
		if isIdle(err) {
			return nil, false, nil
		}
		d.errors.Add(1)
		return nil, false, fmt.Errorf("reading report: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}

	d.reportsIn.Add(1)
	return append([]byte(nil), d.buf[:n]...), true, nil
}

// WriteReport sends an output report. The first byte is the report ID.
func (d *Device) WriteReport(report []byte) error {
	if d.closed || d.dev == nil {
		return ErrClosed
	}
	if len(report) == 0 {
		return fmt.Errorf("hidreport: empty report")
	}

	var err error
	if d.out != nil {
		_, err = d.out.Write(report)
	} else {
		_, err = d.dev.Control(requestTypeClassOut, requestSetReport,
			setReportValue(report[0]), uint16(d.cfg.Interface), report)
	}
	if err != nil {
		d.errors.Add(1)
		return fmt.Errorf("writing report 0x%02X: %w", report[0], err)
	}

	d.reportsOut.Add(1)
	return nil
}

// Close releases the interface, device and USB context.
// Safe to call multiple times.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if d.intf != nil {
		d.intf.Close()
	}
	var errs []error
	if d.conf != nil {
		errs = append(errs, d.conf.Close())
	}
	if d.dev != nil {
		errs = append(errs, d.dev.Close())
	}
	if d.ctx != nil {
		errs = append(errs, d.ctx.Close())
	}
	return errors.Join(errs...)
}

// Stats returns transfer counters.
func (d *Device) Stats() Stats {
	return Stats{
		ReportsIn:  d.reportsIn.Load(),
		ReportsOut: d.reportsOut.Load(),
		Errors:     d.errors.Load(),
	}
}

// setReportValue is the wValue of a SET_REPORT request for an output report.
func setReportValue(reportID byte) uint16 {
	return uint16(reportTypeOutput)<<8 | uint16(reportID)
}

// isIdle reports whether a read error only means no report arrived in time.
func isIdle(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.ErrorTimeout)
}
