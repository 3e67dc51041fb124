package gree

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outer message discriminators and fixed envelope fields.
const (
	typePack   = "pack"
	typeBind   = "bind"
	typeBindOK = "bindok"
	typeStatus = "status"
	typeCmd    = "cmd"

	appClientID = "app"

	// Bind requests use i=1; every other request uses i=0.
	seqBind    = 1
	seqRequest = 0
)

// request is the outer envelope sent to a device.
type request struct {
	ClientID  string `json:"cid"`
	Seq       int    `json:"i"`
	Type      string `json:"t"`
	UID       int    `json:"uid"`
	TargetCID string `json:"tcid"`
	Pack      string `json:"pack"`
	Tag       string `json:"tag,omitempty"`
}

// response is the outer envelope received from a device.
type response struct {
	Type     string `json:"t"`
	ClientID string `json:"cid"`
	Pack     string `json:"pack"`
	Tag      string `json:"tag,omitempty"`
}

func (r response) envelope() Envelope {
	return Envelope{Pack: r.Pack, Tag: r.Tag}
}

type bindPack struct {
	MAC  string `json:"mac"`
	Type string `json:"t"`
	UID  int    `json:"uid"`
}

type statusPack struct {
	Cols []string `json:"cols"`
	MAC  string   `json:"mac"`
	Type string   `json:"t"`
}

type cmdPack struct {
	Opt  []string `json:"opt"`
	P    []any    `json:"p"`
	Type string   `json:"t"`
}

type bindResult struct {
	Type string `json:"t"`
	Key  string `json:"key"`
}

type statusResult struct {
	Type string   `json:"t"`
	Cols []string `json:"cols"`
	Dat  []any    `json:"dat"`
}

// scanResult is the decrypted pack of a scan reply.
type scanResult struct {
	Type     string `json:"t"`
	ClientID string `json:"cid"`
	MAC      string `json:"mac"`
	Name     string `json:"name"`
	Version  string `json:"ver"`
}

// newCmdPack builds parallel opt/p arrays in sorted key order.
func newCmdPack(p Params) cmdPack {
	keys := p.Keys()
	values := make([]any, len(keys))
	for i, k := range keys {
		values[i] = p[k]
	}
	return cmdPack{Opt: keys, P: values, Type: typeCmd}
}

// encodeRequest encrypts pack and wraps it in a request envelope.
func encodeRequest(deviceID string, seq int, pack any, key string, gcm bool) ([]byte, error) {
	plain, err := json.Marshal(pack)
	if err != nil {
		return nil, fmt.Errorf("encoding pack: %w", err)
	}
	env, err := Encrypt(plain, key, gcm)
	if err != nil {
		return nil, err
	}
	return json.Marshal(request{
		ClientID:  appClientID,
		Seq:       seq,
		Type:      typePack,
		UID:       0,
		TargetCID: deviceID,
		Pack:      env.Pack,
		Tag:       env.Tag,
	})
}

// decodeResponse parses a reply envelope and returns its decrypted pack.
func decodeResponse(raw []byte, key string, gcm bool) ([]byte, error) {
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding envelope: %w", ErrProtocol, err)
	}
	if resp.Type != typePack {
		return nil, fmt.Errorf("%w: unexpected envelope type %q", ErrProtocol, resp.Type)
	}
	if resp.Pack == "" {
		return nil, fmt.Errorf("%w: envelope has no pack", ErrProtocol)
	}
	return Decrypt(resp.envelope(), key, gcm)
}

// zipStatus pairs the cols and dat arrays of a status reply.
func zipStatus(plain []byte) (Params, error) {
	var res statusResult
	if err := json.Unmarshal(plain, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding status: %w", ErrProtocol, err)
	}
	if res.Cols == nil || res.Dat == nil {
		return nil, fmt.Errorf("%w: status reply missing cols or dat", ErrProtocol)
	}
	if len(res.Cols) != len(res.Dat) {
		return nil, fmt.Errorf("%w: status reply has %d cols and %d values", ErrProtocol, len(res.Cols), len(res.Dat))
	}

	out := make(Params, len(res.Cols))
	for i, col := range res.Cols {
		if f, ok := res.Dat[i].(float64); ok {
			out[col] = normaliseNumber(f)
			continue
		}
		out[col] = res.Dat[i]
	}
	return out, nil
}

// parseBindResult extracts the device key from a bind reply.
func parseBindResult(plain []byte) (string, error) {
	var res bindResult
	if err := json.Unmarshal(plain, &res); err != nil {
		return "", fmt.Errorf("%w: %w: decoding bind reply: %w", ErrBind, ErrProtocol, err)
	}
	if !strings.EqualFold(res.Type, typeBindOK) {
		return "", fmt.Errorf("%w: bind reply type %q", ErrBind, res.Type)
	}
	if res.Key == "" {
		return "", fmt.Errorf("%w: bindok without key", ErrBind)
	}
	return res.Key, nil
}
