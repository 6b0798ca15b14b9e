// Package auth renders pairing challenges for display.
package auth

import (
	"encoding/base64"
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"
	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/event"
)

const pngSize = 256

// DataURL renders a pairing code as a PNG data URL.
func DataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, pngSize)
	if err != nil {
		return "", fmt.Errorf("failed to generate QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Terminal renders a pairing code as block characters.
func Terminal(code string) (string, error) {
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to generate QR code: %w", err)
	}
	return qr.ToSmallString(false), nil
}

// SaveToFile writes a pairing code as a PNG file.
func SaveToFile(code, path string) error {
	if err := qrcode.WriteFile(code, qrcode.Medium, pngSize, path); err != nil {
		return fmt.Errorf("failed to save QR code: %w", err)
	}
	return nil
}

// Printer shows pairing progress of sessions on a terminal.
type Printer struct {
	w    io.Writer
	file string
	log  waLog.Logger
}

// NewPrinter creates a Printer writing to w. When file is set, every code
// is also saved there as PNG.
func NewPrinter(w io.Writer, file string, log waLog.Logger) *Printer {
	return &Printer{w: w, file: file, log: log.Sub("QR")}
}

// Handle has the shape of a session listener.
func (p *Printer) Handle(sessionID string, e event.Event) {
	switch ev := e.(type) {
	case event.QRCode:
		p.log.Infof("Scan the QR code below with WhatsApp (Linked Devices) for session %s", sessionID)
		art, err := Terminal(ev.Code)
		if err != nil {
			p.log.Errorf("%v", err)
			fmt.Fprintln(p.w, "QR Code content:", ev.Code)
			return
		}
		fmt.Fprintln(p.w)
		fmt.Fprintln(p.w, art)
		if p.file != "" {
			if err := SaveToFile(ev.Code, p.file); err != nil {
				p.log.Warnf("%v", err)
			} else {
				p.log.Infof("QR code saved to %s", p.file)
			}
		}
	case event.PairSuccess:
		p.log.Infof("Successfully paired session %s as %s", sessionID, ev.DeviceJID)
	case event.Connected:
		p.log.Infof("Session %s connected as %s (%s)", sessionID, ev.Phone, ev.Name)
	case event.ReconnectFailed:
		p.log.Errorf("Session %s gave up reconnecting after %d attempts: %s", sessionID, ev.Attempts, ev.Reason)
	case event.LoggedOut:
		p.log.Warnf("Session %s logged out: %s", sessionID, ev.Reason)
	}
}
