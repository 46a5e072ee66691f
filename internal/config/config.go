package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Network modes for the worker's join procedure
const (
	NetworkStatic = "static"
	NetworkNMCLI  = "nmcli"
)

// HubConfig holds the coordinator configuration
type HubConfig struct {
	// Listener settings
	BindHost string
	Port     int

	// Connection handler timing
	IdleInterval    time.Duration
	ResultTimeout   time.Duration
	WriteTimeout    time.Duration
	LivenessTimeout time.Duration

	// Put a dispatched task back in the queue when its worker is lost
	RequeueOnDisconnect bool

	// Observability
	StatusAddr  string
	ResultsFile string
	LogDir      string
}

// NewHubConfig creates a hub configuration with default values
func NewHubConfig() *HubConfig {
	return &HubConfig{
		BindHost:        "0.0.0.0",
		Port:            5000,
		IdleInterval:    time.Second,
		ResultTimeout:   60 * time.Second,
		WriteTimeout:    10 * time.Second,
		LivenessTimeout: 15 * time.Second,
		StatusAddr:      ":9100",
		LogDir:          "logs",
	}
}

// LoadFromEnvironment loads hub configuration from SWARM_* environment variables
func (c *HubConfig) LoadFromEnvironment() {
	if host := os.Getenv("SWARM_BIND_HOST"); host != "" {
		c.BindHost = host
	}
	loadInt("SWARM_PORT", &c.Port)
	loadMillis("SWARM_IDLE_INTERVAL", &c.IdleInterval)
	loadMillis("SWARM_RESULT_TIMEOUT", &c.ResultTimeout)
	loadMillis("SWARM_WRITE_TIMEOUT", &c.WriteTimeout)
	loadMillis("SWARM_LIVENESS_TIMEOUT", &c.LivenessTimeout)
	loadBool("SWARM_REQUEUE_ON_DISCONNECT", &c.RequeueOnDisconnect)

	if addr, ok := os.LookupEnv("SWARM_STATUS_ADDR"); ok {
		c.StatusAddr = addr
	}
	if path := os.Getenv("SWARM_RESULTS_FILE"); path != "" {
		c.ResultsFile = path
	}
	if dir := os.Getenv("SWARM_LOG_DIR"); dir != "" {
		c.LogDir = dir
	}
}

// ListenAddr returns the address the hub binds
func (c *HubConfig) ListenAddr() string {
	return net.JoinHostPort(c.BindHost, strconv.Itoa(c.Port))
}

// Validate checks if the hub configuration is valid
func (c *HubConfig) Validate() error {
	if err := validatePort(c.Port); err != nil {
		return err
	}

	if c.IdleInterval <= 0 {
		return fmt.Errorf("idle interval must be positive, got: %v", c.IdleInterval)
	}

	if c.ResultTimeout <= 0 {
		return fmt.Errorf("result timeout must be positive, got: %v", c.ResultTimeout)
	}

	if c.WriteTimeout < 0 {
		return fmt.Errorf("write timeout must be non-negative, got: %v", c.WriteTimeout)
	}

	if c.LivenessTimeout != 0 && c.LivenessTimeout < c.IdleInterval {
		return fmt.Errorf("liveness timeout %v is shorter than the idle interval %v", c.LivenessTimeout, c.IdleInterval)
	}

	return nil
}

// WorkerConfig holds the worker configuration
type WorkerConfig struct {
	// Hub address, agreed out of band
	HubHost string
	HubPort int

	// Retry settings
	MaxRetries int
	RetryDelay time.Duration

	// Timeouts
	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	JoinTimeout         time.Duration
	AddressPollInterval time.Duration

	// Network join
	NetworkMode string
	Interface   string
	SSID        string
	Password    string

	// Override for the derived worker identifier
	WorkerID string
}

// NewWorkerConfig creates a worker configuration with default values
func NewWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		HubHost:             "192.168.50.1",
		HubPort:             5000,
		MaxRetries:          5,
		RetryDelay:          10 * time.Second,
		ConnectTimeout:      10 * time.Second,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        10 * time.Second,
		JoinTimeout:         60 * time.Second,
		AddressPollInterval: 2 * time.Second,
		NetworkMode:         NetworkStatic,
		Interface:           "wlan0",
		SSID:                "Master_CubeSat",
		Password:            "raspberry",
	}
}

// LoadFromEnvironment loads worker configuration from SWARM_* environment variables
func (c *WorkerConfig) LoadFromEnvironment() {
	if host := os.Getenv("SWARM_HUB_HOST"); host != "" {
		c.HubHost = host
	}
	loadInt("SWARM_HUB_PORT", &c.HubPort)
	loadInt("SWARM_MAX_RETRIES", &c.MaxRetries)
	loadMillis("SWARM_RETRY_DELAY", &c.RetryDelay)
	loadMillis("SWARM_CONNECT_TIMEOUT", &c.ConnectTimeout)
	loadMillis("SWARM_READ_TIMEOUT", &c.ReadTimeout)
	loadMillis("SWARM_WRITE_TIMEOUT", &c.WriteTimeout)
	loadMillis("SWARM_JOIN_TIMEOUT", &c.JoinTimeout)
	loadMillis("SWARM_ADDRESS_POLL_INTERVAL", &c.AddressPollInterval)

	if mode := os.Getenv("SWARM_NETWORK_MODE"); mode != "" {
		c.NetworkMode = mode
	}
	if iface := os.Getenv("SWARM_INTERFACE"); iface != "" {
		c.Interface = iface
	}
	if ssid := os.Getenv("SWARM_SSID"); ssid != "" {
		c.SSID = ssid
	}
	if password := os.Getenv("SWARM_PASSWORD"); password != "" {
		c.Password = password
	}
	if id := os.Getenv("SWARM_WORKER_ID"); id != "" {
		c.WorkerID = id
	}
}

// HubAddr returns the hub address the worker dials
func (c *WorkerConfig) HubAddr() string {
	return net.JoinHostPort(c.HubHost, strconv.Itoa(c.HubPort))
}

// Validate checks if the worker configuration is valid
func (c *WorkerConfig) Validate() error {
	if c.HubHost == "" {
		return fmt.Errorf("hub host cannot be empty")
	}

	if err := validatePort(c.HubPort); err != nil {
		return err
	}

	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive, got: %d", c.MaxRetries)
	}

	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must be non-negative, got: %v", c.RetryDelay)
	}

	if c.ConnectTimeout <= 0 || c.ReadTimeout <= 0 {
		return fmt.Errorf("connect and read timeouts must be positive")
	}

	if c.JoinTimeout <= 0 || c.AddressPollInterval <= 0 {
		return fmt.Errorf("join timeout and address poll interval must be positive")
	}

	switch c.NetworkMode {
	case NetworkStatic:
	case NetworkNMCLI:
		if c.Interface == "" || c.SSID == "" {
			return fmt.Errorf("nmcli network mode needs an interface and an SSID")
		}
	default:
		return fmt.Errorf("unknown network mode %q, expected %q or %q", c.NetworkMode, NetworkStatic, NetworkNMCLI)
	}

	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", port)
	}
	return nil
}

func loadInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// loadMillis reads a duration given in milliseconds
func loadMillis(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

func loadBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
