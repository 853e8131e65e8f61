// Package preset selects the deployment preset a server instance is built or run for.
//
// The preset is looked up from a fixed cascade of sources every time it is needed,
// so changing the environment between two restarts changes the effective target.
package preset

import (
	"os"
	"strings"
)

const (
	// NodeServer is the baseline preset used when nothing else is configured.
	NodeServer = "node-server"
	// Bun is the preset for the bun runtime.
	Bun = "bun"
)

// EnvVars lists the environment variables consulted after an explicit override, in
// precedence order. They all name the same setting under its historical spellings.
var EnvVars = []string{
	"TARGET",
	"PRESET",
	"SERVER_PRESET",
	"SERVER_TARGET",
	"NITRO_PRESET",
	"NITRO_TARGET",
}

// userAgentVar is exported by package managers to the scripts they launch.
const userAgentVar = "npm_config_user_agent"

// Env is a read-only view of process environment variables.
type Env interface {
	LookupEnv(key string) (string, bool)
}

// OSEnv reads the live process environment on every lookup.
type OSEnv struct{}

// LookupEnv implements Env.
func (OSEnv) LookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapEnv is an Env backed by a map, used to pin an environment snapshot.
type MapEnv map[string]string

// LookupEnv implements Env.
func (m MapEnv) LookupEnv(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Resolve returns the preset for a development or start run. An explicit override
// wins, then the first defined entry of EnvVars, then the runtime default: Bun when
// the process was launched by bun and NodeServer otherwise.
func Resolve(explicit string, env Env) string {
	if p, ok := lookup(explicit, env); ok {
		return p
	}
	if DetectBun(env) {
		return Bun
	}
	return NodeServer
}

// ResolveDeploy is Resolve without runtime detection: the fallback is always NodeServer.
func ResolveDeploy(explicit string, env Env) string {
	if p, ok := lookup(explicit, env); ok {
		return p
	}
	return NodeServer
}

// DetectBun reports whether the current process was started by the bun runtime.
// bun announces itself through the user agent variable it exports to child processes.
func DetectBun(env Env) bool {
	ua, ok := env.LookupEnv(userAgentVar)
	return ok && strings.HasPrefix(ua, "bun/")
}

// A variable set to the empty string still counts as defined.
func lookup(explicit string, env Env) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	for _, name := range EnvVars {
		if v, ok := env.LookupEnv(name); ok {
			return v, true
		}
	}
	return "", false
}

// Resolver returns a function that resolves the preset fresh on every call. It is
// handed to the supervisor so that each restart sees the current environment.
func Resolver(explicit string, env Env) func() string {
	return func() string {
		return Resolve(explicit, env)
	}
}
