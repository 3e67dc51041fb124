package gree

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// gcmFirmwareMajor is the first firmware major version that requires GCM.
const gcmFirmwareMajor = 2

var firmwareVersion = regexp.MustCompile(`V(\d+)`)

// ScanReply is the decoded answer to a scan probe.
type ScanReply struct {
	DeviceID string
	Name     string
	Version  string
	IsGCM    bool
}

// ParseScanReply decodes a scan reply. GCM is selected when the reply
// carries a tag or the firmware major version is 2 or newer.
func ParseScanReply(raw []byte) (ScanReply, error) {
	end := bytes.LastIndexByte(raw, '}')
	if end < 0 {
		return ScanReply{}, fmt.Errorf("%w: scan reply is not JSON", ErrProtocol)
	}

	var resp response
	if err := json.Unmarshal(raw[:end+1], &resp); err != nil {
		return ScanReply{}, fmt.Errorf("%w: decoding scan reply: %w", ErrProtocol, err)
	}
	if resp.Pack == "" {
		return ScanReply{}, fmt.Errorf("%w: scan reply has no pack", ErrProtocol)
	}

	plain, err := Decrypt(resp.envelope(), "", false)
	if err != nil {
		return ScanReply{}, err
	}

	var res scanResult
	if err := json.Unmarshal(plain, &res); err != nil {
		return ScanReply{}, fmt.Errorf("%w: decoding scan pack: %w", ErrProtocol, err)
	}

	reply := ScanReply{
		DeviceID: firstNonEmpty(res.ClientID, res.MAC, resp.ClientID),
		Name:     res.Name,
		Version:  res.Version,
		IsGCM:    resp.envelope().IsGCM() || firmwareMajor(res.Version) >= gcmFirmwareMajor,
	}
	if reply.DeviceID == "" {
		return ScanReply{}, fmt.Errorf("%w: scan reply has no device id", ErrProtocol)
	}
	return reply, nil
}

// Discover scans ip, builds a session from the reply and binds it.
func Discover(ctx context.Context, ip string, opts SessionOptions) (*Session, error) {
	if opts.Transport == nil {
		opts.Transport = NewUDPTransport()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	raw, err := opts.Transport.Scan(ctx, ip, port, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", ip, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, ip)
	}

	reply, err := ParseScanReply(raw)
	if err != nil {
		return nil, err
	}

	session := NewSession(Identity{
		DeviceID: reply.DeviceID,
		IP:       ip,
		Name:     reply.Name,
		IsGCM:    reply.IsGCM,
	}, opts)

	session.logger.Info("device discovered",
		"device_id", reply.DeviceID,
		"ip", ip,
		"name", reply.Name,
		"version", reply.Version,
		"gcm", reply.IsGCM,
	)

	if err := session.Bind(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

func firmwareMajor(version string) int {
	m := firmwareVersion.FindStringSubmatch(version)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
