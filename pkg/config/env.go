package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// readEnvFile parses KEY=VALUE lines. Blank lines and lines starting with #
// or // are skipped; surrounding quotes are stripped.
func readEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return values, scanner.Err()
}

// applyEnv overrides fields from the BRIDGE_* and MQTT_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return "", false
		}
		return v, true
	}

	strs := map[string]*string{
		"BRIDGE_HOST":       &c.Server.Host,
		"BRIDGE_PATH":       &c.Server.Path,
		"BRIDGE_TRANSPORT":  &c.Server.Transport,
		"BRIDGE_SECRET":     &c.Auth.Secret,
		"BRIDGE_LOG_LEVEL":  &c.Logging.Level,
		"BRIDGE_LOG_FORMAT": &c.Logging.Format,
		"BRIDGE_LOG_FILE":   &c.Logging.File,
		"BRIDGE_API_LISTEN": &c.API.Listen,
		"MQTT_BROKER":       &c.Server.MQTT.Broker,
		"MQTT_USERNAME":     &c.Server.MQTT.Username,
		"MQTT_PASSWORD":     &c.Server.MQTT.Password,
		"MQTT_CLIENT_ID":    &c.Server.MQTT.ClientID,
	}
	for key, dst := range strs {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BRIDGE_PORT":      &c.Server.Port,
		"BRIDGE_TICK_RATE": &c.Host.TickRate,
		"MQTT_PORT":        &c.Server.MQTT.Port,
	}
	for key, dst := range ints {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"BRIDGE_AUTO_CONNECT":   &c.Connection.AutoConnect,
		"BRIDGE_AUTO_RECONNECT": &c.Connection.AutoReconnect,
		"BRIDGE_API_ENABLED":    &c.API.Enabled,
	}
	for key, dst := range bools {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"BRIDGE_RECONNECT_DELAY": &c.Connection.ReconnectDelay,
		"BRIDGE_CONNECT_TIMEOUT": &c.Connection.ConnectTimeout,
		"BRIDGE_PING_INTERVAL":   &c.Connection.PingInterval,
	}
	for key, dst := range durations {
		if v, ok := get(key); ok {
			d, err := parseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// parseDuration accepts Go durations ("5s") or bare seconds ("5", "0.5").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}
