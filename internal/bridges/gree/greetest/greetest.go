// Package greetest provides an in-memory appliance network for tests.
//
// Network implements gree.Transport. Each Device decrypts requests with the
// same codec the bridge uses and answers like real firmware: scan, bind,
// status and cmd packs are supported.
package greetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/greemqtt/internal/bridges/gree"
)

// Device is a simulated appliance.
type Device struct {
	IP      string
	ID      string
	Name    string
	Version string

	// Key is issued by bind and used for every later pack.
	Key string

	// AnswerECB and AnswerGCM select which bind schemes get a reply.
	AnswerECB bool
	AnswerGCM bool

	// ScanGCM makes the scan reply carry a GCM tag.
	ScanGCM bool

	// Silent drops every request, as an offline device would.
	Silent bool

	// BindType overrides the "t" of the bind reply. Defaults to "bindok".
	BindType string

	mu       sync.Mutex
	state    gree.Params
	gcm      bool
	requests map[string]int
}

// NewDevice returns a device that answers ECB and GCM binds.
func NewDevice(ip, id string) *Device {
	return &Device{
		IP:        ip,
		ID:        id,
		Name:      "ac-" + id,
		Version:   "V1.2.1",
		Key:       "0123456789abcdef",
		AnswerECB: true,
		AnswerGCM: true,
		state: gree.Params{
			"Pow": 0, "Mod": 1, "SetTem": 22, "TemUn": 0, "WdSpd": 0, "TemSen": 63,
		},
		requests: make(map[string]int),
	}
}

// SetState replaces a device-side parameter value.
func (d *Device) SetState(name string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state[name] = value
}

// State returns a copy of the device-side parameters.
func (d *Device) State() gree.Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(gree.Params, len(d.state))
	for k, v := range d.state {
		out[k] = v
	}
	return out
}

// Requests returns how many packs of type t ("bind", "status", "cmd",
// "scan") the device received.
func (d *Device) Requests(t string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[t]
}

// Network routes datagrams to simulated devices by IP.
type Network struct {
	mu      sync.Mutex
	devices map[string]*Device
}

// NewNetwork creates a network holding devices.
func NewNetwork(devices ...*Device) *Network {
	n := &Network{devices: make(map[string]*Device)}
	for _, d := range devices {
		n.Add(d)
	}
	return n
}

// Add attaches a device to the network.
func (n *Network) Add(d *Device) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.devices[d.IP] = d
}

func (n *Network) device(ip string) *Device {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.devices[ip]
}

// Scan implements gree.Transport.
func (n *Network) Scan(ctx context.Context, target string, _ int, _ time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := n.device(target)
	if d == nil || d.Silent {
		return nil, nil
	}
	return d.scanReply()
}

// SendAndReceive implements gree.Transport.
func (n *Network) SendAndReceive(ctx context.Context, ip string, _ int, request []byte, _ time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := n.device(ip)
	if d == nil || d.Silent {
		return nil, nil
	}
	return d.handle(request)
}

type envelope struct {
	ClientID  string `json:"cid"`
	Seq       int    `json:"i"`
	Type      string `json:"t"`
	UID       int    `json:"uid"`
	TargetCID string `json:"tcid"`
	Pack      string `json:"pack"`
	Tag       string `json:"tag,omitempty"`
}

func (d *Device) scanReply() ([]byte, error) {
	d.mu.Lock()
	d.requests["scan"]++
	d.mu.Unlock()

	pack := map[string]any{"t": "dev", "cid": d.ID, "mac": d.ID, "name": d.Name, "ver": d.Version}
	return d.seal(pack, "", d.ScanGCM, 1)
}

func (d *Device) handle(raw []byte) ([]byte, error) {
	var req envelope
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("greetest: bad request: %w", err)
	}
	gcm := req.Tag != ""

	key := d.Key
	if req.Seq == 1 {
		key = ""
	}
	plain, err := gree.Decrypt(gree.Envelope{Pack: req.Pack, Tag: req.Tag}, key, gcm)
	if err != nil {
		// Firmware ignores packs it cannot read.
		return nil, nil
	}

	var pack map[string]any
	if err := json.Unmarshal(plain, &pack); err != nil {
		return nil, nil
	}
	t, _ := pack["t"].(string)

	d.mu.Lock()
	d.requests[t]++
	d.mu.Unlock()

	switch t {
	case "bind":
		if (gcm && !d.AnswerGCM) || (!gcm && !d.AnswerECB) {
			return nil, nil
		}
		d.mu.Lock()
		d.gcm = gcm
		d.mu.Unlock()
		bindType := d.BindType
		if bindType == "" {
			bindType = "bindok"
		}
		return d.seal(map[string]any{"t": bindType, "mac": d.ID, "key": d.Key, "r": 200}, "", gcm, 1)

	case "status":
		cols, _ := pack["cols"].([]any)
		dat := make([]any, len(cols))
		d.mu.Lock()
		for i, c := range cols {
			name, _ := c.(string)
			dat[i] = d.state[name]
		}
		d.mu.Unlock()
		return d.seal(map[string]any{"t": "dat", "mac": d.ID, "r": 200, "cols": cols, "dat": dat}, d.Key, gcm, 0)

	case "cmd":
		opt, _ := pack["opt"].([]any)
		p, _ := pack["p"].([]any)
		d.mu.Lock()
		for i, o := range opt {
			name, _ := o.(string)
			if i < len(p) {
				d.state[name] = p[i]
			}
		}
		d.mu.Unlock()
		return d.seal(map[string]any{"t": "res", "mac": d.ID, "r": 200, "opt": opt, "p": p, "val": p}, d.Key, gcm, 0)
	}

	return nil, nil
}

func (d *Device) seal(pack map[string]any, key string, gcm bool, seq int) ([]byte, error) {
	plain, err := json.Marshal(pack)
	if err != nil {
		return nil, err
	}
	env, err := gree.Encrypt(plain, key, gcm)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		ClientID: d.ID,
		Seq:      seq,
		Type:     "pack",
		Pack:     env.Pack,
		Tag:      env.Tag,
	})
}
