package hostio

import (
	"encoding/json"
	"fmt"
	"time"

	"gopper/protocol"
)

// Client represents a host-side connection to a running MCU (real
// hardware or a gopper-simd process), speaking the dictionary/command
// handshake over a Port.
type Client struct {
	transport *protocol.HostTransport
	port      Port

	dictionary     *Dictionary
	dictionaryData []byte

	connected bool
}

// Dictionary is the parsed MCU dictionary: version/build strings, the
// config constants, and the command/response name-to-ID tables the
// client uses to translate SendCommand's name argument.
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// NewClient creates an unconnected Client.
func NewClient() *Client {
	return &Client{}
}

// Connect opens device with the standard Klipper baud/timeout.
func (c *Client) Connect(device string) error {
	return c.ConnectWithConfig(DefaultConfig(device))
}

// ConnectWithConfig opens a Port with cfg and starts the transport.
func (c *Client) ConnectWithConfig(cfg *Config) error {
	port, err := Open(cfg)
	if err != nil {
		return fmt.Errorf("hostio: connect: %w", err)
	}

	c.port = port
	c.transport = protocol.NewHostTransport(port)
	c.connected = true

	c.transport.SetResponseHandler(c.handleResponse)

	// Give a freshly launched MCU/simulator time to reach its command loop.
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Close closes the underlying transport and port.
func (c *Client) Close() error {
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			return err
		}
	}
	c.connected = false
	return nil
}

// IsConnected reports whether Connect/ConnectWithConfig succeeded and
// Close hasn't been called since.
func (c *Client) IsConnected() bool {
	return c.connected
}

// RetrieveDictionary fetches the complete dictionary in chunks via the
// identify command (cmdID 0 reserved for identify_response, 1 for
// identify) and parses it as JSON.
func (c *Client) RetrieveDictionary() error {
	if !c.connected {
		return fmt.Errorf("hostio: not connected")
	}

	var raw []byte
	offset := uint32(0)
	const chunkSize = 40
	const maxIterations = 1000

	for i := 0; i < maxIterations; i++ {
		chunk, err := c.sendIdentify(offset, chunkSize)
		if err != nil {
			return fmt.Errorf("hostio: dictionary chunk at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			break
		}
		raw = append(raw, chunk...)
		offset += uint32(len(chunk))
		if len(chunk) < chunkSize {
			break
		}
	}

	c.dictionaryData = raw

	dict := &Dictionary{}
	if err := json.Unmarshal(raw, dict); err != nil {
		return fmt.Errorf("hostio: parse dictionary: %w", err)
	}
	c.dictionary = dict

	return nil
}

func (c *Client) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	err := c.transport.SendCommand(1, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, fmt.Errorf("send identify: %w", err)
	}

	resp, err := c.transport.ReceiveResponse(1 * time.Second)
	if err != nil {
		return nil, fmt.Errorf("receive identify_response: %w", err)
	}

	payload := resp.Payload
	cmdID, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("decode response command ID: %w", err)
	}
	if cmdID != 0 {
		return nil, fmt.Errorf("unexpected response command ID: %d (want 0)", cmdID)
	}

	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("decode response offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: sent %d, got %d", offset, respOffset)
	}

	data, err := protocol.DecodeVLQBytes(&payload)
	if err != nil {
		return nil, fmt.Errorf("decode response data: %w", err)
	}
	return data, nil
}

// handleResponse is the async response callback wired into the
// transport; SendCommand's callers instead use ReceiveResponse or watch
// their own dedicated channel, so this only exists to satisfy
// HostTransport's requirement that some handler be set.
func (c *Client) handleResponse(cmdID uint16, data *[]byte) error {
	return nil
}

// SendCommand sends a named command using the dictionary's assigned ID.
func (c *Client) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	if !c.connected {
		return fmt.Errorf("hostio: not connected")
	}
	if c.dictionary == nil {
		return fmt.Errorf("hostio: dictionary not loaded")
	}
	id, ok := c.dictionary.Commands[name]
	if !ok {
		return fmt.Errorf("hostio: unknown command %q", name)
	}
	return c.transport.SendCommand(uint16(id), args)
}

// ReceiveResponse waits up to timeout for the next response frame.
func (c *Client) ReceiveResponse(timeout time.Duration) (*protocol.Message, error) {
	return c.transport.ReceiveResponse(timeout)
}

// DictionaryInfo returns the parsed dictionary, or nil if RetrieveDictionary
// hasn't been called yet.
func (c *Client) DictionaryInfo() *Dictionary {
	return c.dictionary
}

// DictionaryRaw returns the raw (possibly still-compressed) dictionary
// bytes as received.
func (c *Client) DictionaryRaw() []byte {
	return c.dictionaryData
}
