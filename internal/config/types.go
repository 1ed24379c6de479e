package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider types
const (
	TypeTCP       = "tcp"
	TypeBluetooth = "bluetooth"
	TypeHTTP      = "http"
	TypeFTP       = "ftp"
)

// Config represents the overall configuration for a netinf node
type Config struct {
	LogLevel  string         `json:"logLevel,omitempty"`
	Providers []ProviderConf `json:"-"`
	Dispatch  DispatchConf   `json:"dispatch"`
	Server    ServerConf     `json:"server"`
	Publish   PublishConf    `json:"publish"`
}

// ProviderConf is the interface for all transport configurations
type ProviderConf interface {
	GetType() string
	GetName() string
}

// Duration is a time.Duration read from a Go duration string ("30s") or
// a number of seconds
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// TCPConf configures the raw TCP socket transport
type TCPConf struct {
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	ConnectTimeout Duration `json:"connectTimeout,omitempty"`
	IOTimeout      Duration `json:"ioTimeout,omitempty"`
	Attempts       int      `json:"attempts,omitempty"`
	MaxPayload     int64    `json:"maxPayload,omitempty"`
}

func (p TCPConf) GetType() string { return p.Type }
func (p TCPConf) GetName() string { return p.Name }

// BluetoothConf configures the RFCOMM socket transport
type BluetoothConf struct {
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	Channel        uint8    `json:"channel,omitempty"`
	ConnectTimeout Duration `json:"connectTimeout,omitempty"`
	IOTimeout      Duration `json:"ioTimeout,omitempty"`
	Attempts       int      `json:"attempts,omitempty"`
	MaxPayload     int64    `json:"maxPayload,omitempty"`
}

func (p BluetoothConf) GetType() string { return p.Type }
func (p BluetoothConf) GetName() string { return p.Name }

// HTTPConf configures the HTTP convergence-layer transport
type HTTPConf struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Timeout     Duration `json:"timeout,omitempty"`
	GetPath     string   `json:"getPath,omitempty"`
	PublishPath string   `json:"publishPath,omitempty"`
	PublishURL  string   `json:"publishURL,omitempty"`
	MaxBytes    int64    `json:"maxBytes,omitempty"`
}

func (p HTTPConf) GetType() string { return p.Type }
func (p HTTPConf) GetName() string { return p.Name }

// FTPConf configures the FTP transport
type FTPConf struct {
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	Username       string   `json:"username,omitempty"`
	Password       string   `json:"password,omitempty"`
	ConnectTimeout Duration `json:"connectTimeout,omitempty"`
	Attempts       int      `json:"attempts,omitempty"`
	MaxPayload     int64    `json:"maxPayload,omitempty"`
}

func (p FTPConf) GetType() string { return p.Type }
func (p FTPConf) GetName() string { return p.Name }

// DispatchConf configures fetch behaviour
type DispatchConf struct {
	FetchTimeout     Duration `json:"fetchTimeout,omitempty"`
	ChunkStrategy    string   `json:"chunkStrategy,omitempty"`
	ChunkConcurrency int      `json:"chunkConcurrency,omitempty"`
	Verify           bool     `json:"verify,omitempty"`
	CacheSize        int      `json:"cacheSize,omitempty"`
	SelfAddresses    []string `json:"selfAddresses,omitempty"`
}

// ServerConf configures the serving side
type ServerConf struct {
	Listen    string   `json:"listen,omitempty"`
	IOTimeout Duration `json:"ioTimeout,omitempty"`
}

// PublishConf configures ingest of local files
type PublishConf struct {
	WatchDir       string   `json:"watchDir,omitempty"`
	Algorithm      string   `json:"algorithm,omitempty"`
	Locators       []string `json:"locators,omitempty"`
	ChunkThreshold int64    `json:"chunkThreshold,omitempty"`
	MinChunk       int      `json:"minChunk,omitempty"`
	AvgChunk       int      `json:"avgChunk,omitempty"`
	MaxChunk       int      `json:"maxChunk,omitempty"`
	Push           bool     `json:"push,omitempty"`
}
