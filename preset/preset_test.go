package preset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		env      MapEnv
		expected string
	}{
		{
			name:     "explicit override wins over everything",
			explicit: "x",
			env:      MapEnv{"TARGET": "a", "PRESET": "b", userAgentVar: "bun/1.1.0"},
			expected: "x",
		},
		{
			name:     "server target alone",
			env:      MapEnv{"SERVER_TARGET": "y"},
			expected: "y",
		},
		{
			name:     "nothing set falls back to node server",
			env:      MapEnv{},
			expected: NodeServer,
		},
		{
			name:     "nothing set under bun",
			env:      MapEnv{userAgentVar: "bun/1.1.8 npm/? node/v21.6.0 linux x64"},
			expected: Bun,
		},
		{
			name:     "npm user agent is not bun",
			env:      MapEnv{userAgentVar: "npm/10.2.4 node/v21.6.0 darwin arm64"},
			expected: NodeServer,
		},
		{
			name:     "preset beats lower precedence variables",
			env:      MapEnv{"PRESET": "custom", "SERVER_PRESET": "a", "SERVER_TARGET": "b", "NITRO_PRESET": "c", "NITRO_TARGET": "d"},
			expected: "custom",
		},
		{
			name:     "target beats preset",
			env:      MapEnv{"TARGET": "vercel", "PRESET": "custom"},
			expected: "vercel",
		},
		{
			name:     "nitro target is last",
			env:      MapEnv{"NITRO_TARGET": "netlify"},
			expected: "netlify",
		},
		{
			name:     "empty string counts as defined",
			env:      MapEnv{"TARGET": "", "PRESET": "custom"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Resolve(tt.explicit, tt.env))
		})
	}
}

func TestResolveDeployIgnoresRuntime(t *testing.T) {
	env := MapEnv{userAgentVar: "bun/1.1.0"}
	assert.Equal(t, NodeServer, ResolveDeploy("", env))
	assert.Equal(t, "bun", Resolve("", env))

	env["NITRO_PRESET"] = "cloudflare"
	assert.Equal(t, "cloudflare", ResolveDeploy("", env))
	assert.Equal(t, "aws", ResolveDeploy("aws", env))
}

func TestResolverIsNotMemoized(t *testing.T) {
	env := MapEnv{}
	resolve := Resolver("", env)
	assert.Equal(t, NodeServer, resolve())

	env["PRESET"] = "custom"
	assert.Equal(t, "custom", resolve())

	delete(env, "PRESET")
	assert.Equal(t, NodeServer, resolve())
}

func TestOSEnvReadsLiveEnvironment(t *testing.T) {
	t.Setenv("NITRO_TARGET", "first")
	v, ok := OSEnv{}.LookupEnv("NITRO_TARGET")
	assert.True(t, ok)
	assert.Equal(t, "first", v)

	t.Setenv("NITRO_TARGET", "second")
	v, _ = OSEnv{}.LookupEnv("NITRO_TARGET")
	assert.Equal(t, "second", v)
}
