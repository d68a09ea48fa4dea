package module

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const currentManifestVersion = 1

// Manifest declares an external command module.
type Manifest struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Protocols     []string `yaml:"protocols"`
	OpsecSafe     bool     `yaml:"opsec_safe"`
	MultipleHosts bool     `yaml:"multiple_hosts"`
	Command       string   `yaml:"command"`
	Options       string   `yaml:"options"`
	Required      []string `yaml:"required"`
	APIVersion    int      `yaml:"api_version"`
}

// LoadManifests registers every *.yaml or *.yml manifest in dir. Invalid
// manifests are skipped with a warning. A missing dir is not an error.
func (r *Registry) LoadManifests(dir string, log *zap.SugaredLogger) (int, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		m, err := ParseManifest(path)
		if err != nil {
			log.Warnw("skipping module manifest", "path", path, "error", err)
			continue
		}
		man := m
		if err := r.Register(func() Module { return newCommandModule(man) }); err != nil {
			log.Warnw("skipping module manifest", "path", path, "error", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// ParseManifest reads and validates one manifest file.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if m.APIVersion == 0 {
		m.APIVersion = currentManifestVersion
	}
	if m.APIVersion != currentManifestVersion {
		return nil, fmt.Errorf("unsupported api_version %d (expected %d)", m.APIVersion, currentManifestVersion)
	}
	if m.Name == "" || m.Command == "" {
		return nil, fmt.Errorf("name and command are required")
	}
	if len(m.Protocols) == 0 {
		return nil, fmt.Errorf("at least one protocol is required")
	}
	if _, err := parseCommand(m.Name, m.Command); err != nil {
		return nil, err
	}
	return &m, nil
}

func parseCommand(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(text)
}

// commandModule runs a rendered shell command on every target.
type commandModule struct {
	manifest *Manifest
	tmpl     *template.Template
	opts     map[string]string
}

func newCommandModule(m *Manifest) *commandModule {
	return &commandModule{manifest: m}
}

func (c *commandModule) Name() string                 { return strings.ToLower(c.manifest.Name) }
func (c *commandModule) Description() string          { return c.manifest.Description }
func (c *commandModule) SupportedProtocols() []string { return c.manifest.Protocols }
func (c *commandModule) Options() string              { return c.manifest.Options }

func (c *commandModule) Capabilities() Capabilities {
	return Capabilities{OpsecSafe: c.manifest.OpsecSafe, MultipleHosts: c.manifest.MultipleHosts}
}

func (c *commandModule) Init(_ *Context, opts map[string]string) error {
	for _, key := range c.manifest.Required {
		if _, ok := opts[strings.ToUpper(key)]; !ok {
			return fmt.Errorf("%w: %s requires -o %s=...", sharedErrors.ErrMissingOption, c.Name(), strings.ToUpper(key))
		}
	}
	tmpl, err := parseCommand(c.manifest.Name, c.manifest.Command)
	if err != nil {
		return err
	}
	c.tmpl = tmpl
	c.opts = opts
	return nil
}

type commandData struct {
	Addr     string
	Port     int
	Hostname string
	Options  map[string]string
	Callback string
}

// Render produces the command for one session.
func (c *commandModule) Render(mctx *Context, s Session) (string, error) {
	t := s.Target()
	var buf bytes.Buffer
	err := c.tmpl.Execute(&buf, commandData{
		Addr:     t.Addr,
		Port:     t.Port,
		Hostname: t.Hostname,
		Options:  c.opts,
		Callback: mctx.CallbackURL(c.Name()),
	})
	if err != nil {
		return "", fmt.Errorf("render %s: %w", c.Name(), err)
	}
	return buf.String(), nil
}

func (c *commandModule) OnLogin(ctx context.Context, mctx *Context, s Session) error {
	command, err := c.Render(mctx, s)
	if err != nil {
		return err
	}
	out, err := s.Exec(ctx, command)
	if err != nil {
		return err
	}
	out = strings.TrimRight(out, "\n")
	for _, line := range strings.Split(out, "\n") {
		if line != "" {
			s.Console().Print("%s", line)
		}
	}
	if mctx.Store != nil {
		return mctx.Store.AddLoot(s.HostID(), c.Name(), "output", out)
	}
	return nil
}
