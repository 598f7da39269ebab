package config

import (
	"time"

	"synbridge/pkg/connection"
	"synbridge/pkg/mqtt"
	"synbridge/pkg/validator"
)

// ConnectionConfig returns the connection manager settings.
func (c *Config) ConnectionConfig() connection.Config {
	cc := connection.DefaultConfig()
	cc.Host = c.Server.Host
	cc.Port = c.Server.Port
	cc.AutoReconnect = c.Connection.AutoReconnect
	cc.ReconnectDelay = c.Connection.ReconnectDelay
	cc.ConnectTimeout = c.Connection.ConnectTimeout
	if c.Connection.SendBuffer > 0 {
		cc.SendBuffer = c.Connection.SendBuffer
	}
	if c.Server.Transport == "mqtt" {
		cc.Host = c.Server.MQTT.Broker
		cc.Port = c.Server.MQTT.Port
		cc.KeepAlive = 0
	}
	return cc
}

// ValidatorOptions returns the validator settings.
func (c *Config) ValidatorOptions() validator.Options {
	v := c.Validator
	return validator.Options{
		AllowedCommands:    v.AllowedCommands,
		RateLimits:         v.RateLimits,
		DefaultRateLimit:   v.DefaultRateLimit,
		MaxStringLength:    v.MaxStringLength,
		MaxPromptLength:    v.MaxPromptLength,
		MaxCommandIDLength: v.MaxCommandIDLength,
	}
}

// MQTTConfig returns the broker transport settings.
func (c *Config) MQTTConfig() mqtt.Config {
	m := c.Server.MQTT
	return mqtt.Config{
		Broker:      m.Broker,
		Port:        m.Port,
		Username:    m.Username,
		Password:    m.Password,
		ClientID:    m.ClientID,
		TopicPrefix: m.TopicPrefix,
	}
}

// TickInterval is the duration of one host frame.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Host.TickRate)
}
