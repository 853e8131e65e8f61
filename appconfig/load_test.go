package appconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
name: shop
routers:
  - name: public
    type: static
    base: /
    dir: ./public
  - name: api
    type: service
    base: /api
    command: go run ./cmd/api
    healthPath: /health
    env:
      LOG_LEVEL: debug
stacks:
  docs:
    - name: docs
      type: proxy
      base: /docs
      target: http://localhost:5173
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.config.yaml", validConfig)

	app, err := Load(context.Background(), "", Options{Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, "shop", app.Name)
	assert.Equal(t, DefaultCacheDir, app.CacheDir)
	assert.Equal(t, dir, app.Root)
	assert.Len(t, app.Routers, 2)
	assert.Empty(t, app.Enabled)

	api, ok := app.Router("api")
	require.True(t, ok)
	assert.Equal(t, RouterService, api.Type)
	assert.Equal(t, "debug", api.Env["LOG_LEVEL"])
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.config.json", `{"routers":[{"name":"site","type":"static","base":"/","dir":"dist"}]}`)

	app, err := Load(context.Background(), "", Options{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), app.Name)
	assert.Equal(t, filepath.Join(dir, "dist"), app.ResolvePath("dist"))
}

func TestLoadExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "custom.yaml", validConfig)

	app, err := Load(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, path, app.ConfigPath)
}

func TestLoadStacks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.config.yaml", validConfig)

	app, err := Load(context.Background(), "", Options{Dir: dir, Stacks: []string{"docs"}})
	require.NoError(t, err)
	assert.Len(t, app.Routers, 3)
	assert.Equal(t, []string{"docs"}, app.Enabled)

	_, err = Load(context.Background(), "", Options{Dir: dir, Stacks: []string{"missing"}})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadReturnsFreshApp(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.config.yaml", validConfig)

	first, err := Load(context.Background(), "", Options{Dir: dir})
	require.NoError(t, err)
	second, err := Load(context.Background(), "", Options{Dir: dir})
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	second.Routers[0].Base = "/changed"
	assert.Equal(t, "/", first.Routers[0].Base)
}

func TestLoadNoConfig(t *testing.T) {
	_, err := Load(context.Background(), "", Options{Dir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoConfig)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax error", "routers: [\n"},
		{"no routers", "name: empty\n"},
		{"missing base slash", "routers:\n  - {name: a, type: static, base: api, dir: x}\n"},
		{"duplicate names", "routers:\n  - {name: a, type: static, base: /, dir: x}\n  - {name: a, type: static, base: /b, dir: y}\n"},
		{"duplicate base", "routers:\n  - {name: a, type: static, base: /x, dir: x}\n  - {name: b, type: static, base: /x/, dir: y}\n"},
		{"brace in base", "routers:\n  - {name: a, type: static, base: \"/docs{\", dir: x}\n"},
		{"space in base", "routers:\n  - {name: a, type: static, base: \"/a b\", dir: x}\n"},
		{"dot segment in base", "routers:\n  - {name: a, type: static, base: /a/../b, dir: x}\n"},
		{"empty segment in base", "routers:\n  - {name: a, type: static, base: /a//b, dir: x}\n"},
		{"reserved base", "routers:\n  - {name: a, type: static, base: /__devhost/, dir: x}\n"},
		{"below reserved base", "routers:\n  - {name: a, type: proxy, base: /__devhost/api, target: \"http://localhost:4000\"}\n"},
		{"unknown type", "routers:\n  - {name: a, type: lambda, base: /}\n"},
		{"proxy without target", "routers:\n  - {name: a, type: proxy, base: /, target: localhost}\n"},
		{"service without command", "routers:\n  - {name: a, type: service, base: /}\n"},
		{"static without dir", "routers:\n  - {name: a, type: static, base: /}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "app.config.yaml", tt.content)
			app, err := Load(context.Background(), "", Options{Dir: dir})
			assert.Nil(t, app)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestValidateBase(t *testing.T) {
	for _, base := range []string{"/", "/api", "/api/", "/api/v2", "/~user", "/a-b_c.d", "/@scope:x"} {
		assert.NoError(t, validateBase(base), base)
	}
	for _, base := range []string{"", "api", "//", "/a b", "/docs{", "/{id}", "/a/./b", "/..", "/a\tb", "/café"} {
		assert.Error(t, validateBase(base), base)
	}
}

func TestIsReserved(t *testing.T) {
	assert.True(t, IsReserved("/__devhost"))
	assert.True(t, IsReserved("/__devhost/"))
	assert.True(t, IsReserved("/__devhost/logs"))
	assert.False(t, IsReserved("/__devhostx"))
	assert.False(t, IsReserved("/"))
}

func TestRoutersByBase(t *testing.T) {
	app := &App{Routers: []Router{
		{Name: "root", Base: "/"},
		{Name: "api", Base: "/api"},
		{Name: "v2", Base: "/api/v2"},
	}}
	ordered := app.RoutersByBase()
	assert.Equal(t, "v2", ordered[0].Name)
	assert.Equal(t, "api", ordered[1].Name)
	assert.Equal(t, "root", ordered[2].Name)
	assert.Equal(t, "root", app.Routers[0].Name)
}

func TestParseStacks(t *testing.T) {
	assert.Equal(t, []string{"docs", "admin"}, ParseStacks(" docs, ,admin"))
	assert.Nil(t, ParseStacks(""))
}
