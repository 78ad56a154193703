package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/luciancaetano/vmhttp"
)

const (
	envAddress     = "VMHTTP_ADDRESS"
	envPort        = "VMHTTP_PORT"
	envServerName  = "VMHTTP_SERVER_NAME"
	envMaxBodySize = "VMHTTP_MAX_BODY_SIZE"

	envImagesDir   = "VMHTTP_IMAGES_DIR"
	envScriptsDir  = "VMHTTP_SCRIPTS_DIR"
	envExposeTrail = "VMHTTP_EXPOSE_TRAIL"

	envMonitorEnabled = "VMHTTP_MONITOR_ENABLED"
	envMonitorAddress = "VMHTTP_MONITOR_ADDRESS"

	envLogLevel  = "VMHTTP_LOG_LEVEL"
	envLogFormat = "VMHTTP_LOG_FORMAT"
	envLogOutput = "VMHTTP_LOG_OUTPUT"
	envLogFile   = "VMHTTP_LOG_FILE"
)

// LoadFromEnv overrides c with the VMHTTP_* variables that are set. A
// variable that does not parse is an error.
func (c *Config) LoadFromEnv() error {
	if c == nil {
		return nil
	}

	readString(envAddress, &c.Server.Address)
	readString(envServerName, &c.Server.Name)
	readString(envImagesDir, &c.Engine.ImagesDir)
	readString(envScriptsDir, &c.Engine.ScriptsDir)
	readString(envMonitorAddress, &c.Monitor.Address)
	readString(envLogLevel, &c.Log.Level)
	readString(envLogFormat, &c.Log.Format)
	readString(envLogOutput, &c.Log.Output)
	readString(envLogFile, &c.Log.FilePath)

	if err := readInt(envPort, &c.Server.Port); err != nil {
		return err
	}
	if err := readInt(envMaxBodySize, &c.Session.MaxBodySize); err != nil {
		return err
	}
	if err := readBool(envExposeTrail, &c.Engine.ExposeTrail); err != nil {
		return err
	}
	return readBool(envMonitorEnabled, &c.Monitor.Enabled)
}

func readString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func readInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s %s=%q: %w", vmhttp.ErrEnvInvalid, key, v, err)
	}
	*dst = i
	return nil
}

func readBool(key string, dst *bool) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s %s=%q: %w", vmhttp.ErrEnvInvalid, key, v, err)
	}
	*dst = b
	return nil
}
