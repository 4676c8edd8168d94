// Package config loads the hivemind configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Roles a hivemind process can assume.
const (
	RoleAsker   = "asker"
	RoleMemory  = "memory"
	RoleBrainer = "brainer"
)

// Default configuration values exported for documentation and validation.
const (
	DefaultConfigPath = "./configuration.yml"
	DefaultAMQPHost   = "localhost"
	DefaultAMQPPort   = 5672
	DefaultMongoHost  = "localhost"
	DefaultMongoPort  = 27017
	DefaultDatabase   = "hivemind"
	DefaultCollection = "questions"
)

var (
	// ErrMissingRole is returned when neither the file nor the CLI
	// provides a role.
	ErrMissingRole = errors.New("config: missing role")

	// ErrUnknownRole is returned for a role outside asker/memory/brainer.
	ErrUnknownRole = errors.New("config: unknown role")
)

// Config is the complete hivemind configuration.
type Config struct {
	Role     string         `yaml:"role"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	MongoDB  MongoDBConfig  `yaml:"mongodb"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// RabbitMQConfig describes the broker connection.
type RabbitMQConfig struct {
	Host        string          `yaml:"host"`
	Port        int             `yaml:"port"`
	VHost       string          `yaml:"vhost"`
	Credentials AMQPCredentials `yaml:"credentials"`
}

// AMQPCredentials are the broker login, both fields optional.
type AMQPCredentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MongoDBConfig describes the question store connection.
type MongoDBConfig struct {
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	Credentials MongoCredentials `yaml:"credentials"`
	Database    string           `yaml:"database"`
	Collection  string           `yaml:"collection"`
}

// MongoCredentials are the store login, all fields optional.
type MongoCredentials struct {
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	AuthSource    string `yaml:"authSource"`
	AuthMechanism string `yaml:"authMechanism"`
}

// MetricsConfig controls the Prometheus endpoint of the memory role.
// An empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses the configuration file, then fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied, for setups
// without a configuration file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.RabbitMQ.Host == "" {
		c.RabbitMQ.Host = DefaultAMQPHost
	}
	if c.RabbitMQ.Port == 0 {
		c.RabbitMQ.Port = DefaultAMQPPort
	}
	if c.MongoDB.Host == "" {
		c.MongoDB.Host = DefaultMongoHost
	}
	if c.MongoDB.Port == 0 {
		c.MongoDB.Port = DefaultMongoPort
	}
	if c.MongoDB.Database == "" {
		c.MongoDB.Database = DefaultDatabase
	}
	if c.MongoDB.Collection == "" {
		c.MongoDB.Collection = DefaultCollection
	}
}

// Validate checks the configuration is complete enough to launch a role.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleAsker, RoleMemory, RoleBrainer:
		return nil
	case "":
		return ErrMissingRole
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRole, c.Role)
	}
}

// URL builds the AMQP connection URL from the parts.
func (r RabbitMQConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		Host:   r.Host + ":" + strconv.Itoa(r.Port),
		Path:   "/" + r.VHost,
	}
	if r.Credentials.Username != "" {
		u.User = url.UserPassword(r.Credentials.Username, r.Credentials.Password)
	}
	return u.String()
}

// URI builds the MongoDB connection URI. Credentials are passed to the
// driver separately so auth options stay structured.
func (m MongoDBConfig) URI() string {
	return "mongodb://" + m.Host + ":" + strconv.Itoa(m.Port)
}
