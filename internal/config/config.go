// Package config resolves the process configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	// EnvMessage names the environment variable holding the response message.
	EnvMessage = "ENV_MESSAGE"
	// DefaultMessage is served when EnvMessage is unset.
	DefaultMessage = "Hello, World!"
	// Port is the fixed TCP port the server listens on, on all interfaces.
	Port = 8000
)

// Config is immutable after Load returns.
type Config struct {
	Message string
	Port    int
}

// Addr returns the listen address for all interfaces.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Resolve builds a Config from lookup. A variable that is set but empty yields an
// empty message; only an unset variable falls back to DefaultMessage.
func Resolve(lookup func(string) (string, bool)) Config {
	msg, ok := lookup(EnvMessage)
	if !ok {
		msg = DefaultMessage
	}
	return Config{Message: msg, Port: Port}
}

// Load resolves from the process environment. When envFile is non-empty it is read
// first, without overriding variables that are already set.
//
// A missing envFile still returns the resolved Config, with an error wrapping
// fs.ErrNotExist; callers may treat that as a warning. Any other read or parse
// error returns a zero Config.
func Load(envFile string) (Config, error) {
	if envFile == "" {
		return Resolve(os.LookupEnv), nil
	}
	if err := godotenv.Load(envFile); err != nil {
		err = fmt.Errorf("load env file %s: %w", envFile, err)
		if errors.Is(err, fs.ErrNotExist) {
			return Resolve(os.LookupEnv), err
		}
		return Config{}, err
	}
	return Resolve(os.LookupEnv), nil
}
